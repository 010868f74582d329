package schema

import (
	"fmt"
	"regexp"

	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	// DefaultMaxFields is the ingestion service's flattened field limit.
	DefaultMaxFields = 2000
	// DefaultMessageName names the root wire message.
	DefaultMessageName = "IngestRecord"

	wirePackage = "zerowire.ingest"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// WireField is one field of the wire schema, paired with the logical field
// it was derived from.
type WireField struct {
	Name       string
	Path       string
	Column     int
	Logical    DataType
	Nullable   bool
	Repeated   bool
	Descriptor protoreflect.FieldDescriptor
	// Nested holds the wire fields of a struct or list<struct> element.
	Nested []WireField
}

// WireSchema is the flattened wire schema derived from a logical schema.
type WireSchema struct {
	Logical    Schema
	File       *descriptorpb.FileDescriptorProto
	Descriptor *descriptorpb.DescriptorProto
	Message    protoreflect.MessageDescriptor
	Fields     []WireField
	FieldCount int

	index map[string]int
}

// Column returns the column index of a top-level field.
func (w *WireSchema) Column(name string) (int, bool) {
	i, ok := w.index[name]
	return i, ok
}

// MapperConfig configures schema mapping.
type MapperConfig struct {
	MessageName string
	MaxFields   int
}

// Mapper derives wire schemas. It holds no mutable state and is safe for
// concurrent use.
type Mapper struct {
	messageName string
	maxFields   int
}

// NewMapper creates a mapper, applying defaults for zero values.
func NewMapper(cfg MapperConfig) *Mapper {
	if cfg.MessageName == "" {
		cfg.MessageName = DefaultMessageName
	}
	if cfg.MaxFields <= 0 {
		cfg.MaxFields = DefaultMaxFields
	}
	return &Mapper{messageName: cfg.MessageName, maxFields: cfg.MaxFields}
}

// Map validates s and builds its wire schema. All failures are
// configuration errors surfaced before any row is processed.
func (m *Mapper) Map(s Schema) (*WireSchema, error) {
	if len(s.Fields) == 0 {
		return nil, ingesterrors.New(ingesterrors.ErrorTypeConfig, "schema has no fields")
	}
	if !validName.MatchString(m.messageName) {
		return nil, ingesterrors.New(ingesterrors.ErrorTypeConfig, "invalid message name").
			WithDetail("name", m.messageName)
	}

	count := CountFields(s.Fields)
	if count > m.maxFields {
		return nil, ingesterrors.Newf(ingesterrors.ErrorTypeConfig,
			"flattened schema has %d fields, limit is %d", count, m.maxFields).
			WithDetail("fields", count).
			WithDetail("limit", m.maxFields)
	}

	root, err := buildMessage(m.messageName, s.Fields, "", "."+wirePackage+"."+m.messageName)
	if err != nil {
		return nil, err
	}

	file := &descriptorpb.FileDescriptorProto{
		Name:        proto.String("zerowire/" + m.messageName + ".proto"),
		Package:     proto.String(wirePackage),
		Syntax:      proto.String("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{root},
	}
	fd, err := protodesc.NewFile(file, nil)
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeConfig, "schema does not form a valid wire descriptor")
	}
	md := fd.Messages().ByName(protoreflect.Name(m.messageName))
	if md == nil {
		return nil, ingesterrors.New(ingesterrors.ErrorTypeInternal, "root message missing from descriptor")
	}

	fields := bindFields(s.Fields, md, "")
	index := make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		index[f.Name] = i
	}

	return &WireSchema{
		Logical:    s,
		File:       file,
		Descriptor: root,
		Message:    md,
		Fields:     fields,
		FieldCount: count,
		index:      index,
	}, nil
}

// Map maps s with default limits.
func Map(s Schema) (*WireSchema, error) {
	return NewMapper(MapperConfig{}).Map(s)
}

// CountFields returns the flattened field count: every field at every
// nesting level counts once.
func CountFields(fields []Field) int {
	n := 0
	for _, f := range fields {
		n++
		n += countNested(f.Type)
	}
	return n
}

func countNested(t DataType) int {
	switch t.Kind {
	case KindStruct:
		return CountFields(t.Fields)
	case KindList:
		if t.Elem != nil {
			return countNested(*t.Elem)
		}
	}
	return 0
}

func buildMessage(name string, fields []Field, parentPath, fullName string) (*descriptorpb.DescriptorProto, error) {
	msg := &descriptorpb.DescriptorProto{Name: proto.String(name)}
	seen := make(map[string]struct{}, len(fields))
	wireNames, typeNames := scopeNames(fields)

	for i, f := range fields {
		path := joinPath(parentPath, f.Name)
		if !validName.MatchString(f.Name) {
			return nil, ingesterrors.New(ingesterrors.ErrorTypeConfig,
				"field name must contain only ASCII letters, digits and underscores").
				WithDetail("field", path)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, ingesterrors.New(ingesterrors.ErrorTypeConfig, "duplicate field name").
				WithDetail("field", path)
		}
		seen[f.Name] = struct{}{}

		fdp := &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(wireNames[i]),
			Number: proto.Int32(int32(i + 1)),
			Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		}
		if wireNames[i] != f.Name {
			fdp.JsonName = proto.String(f.Name)
		}

		t := f.Type
		if t.Kind == KindList {
			if t.Elem == nil {
				return nil, ingesterrors.New(ingesterrors.ErrorTypeConfig, "list field without element type").
					WithDetail("field", path)
			}
			if t.Elem.Kind == KindList {
				return nil, ingesterrors.New(ingesterrors.ErrorTypeConfig, "nested lists cannot be represented on the wire").
					WithDetail("field", path)
			}
			fdp.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
			t = *t.Elem
		}

		if t.Kind == KindStruct {
			if len(t.Fields) == 0 {
				return nil, ingesterrors.New(ingesterrors.ErrorTypeConfig, "nested record has no fields").
					WithDetail("field", path)
			}
			nestedName := typeNames[i]
			nestedFull := fullName + "." + nestedName
			nested, err := buildMessage(nestedName, t.Fields, path, nestedFull)
			if err != nil {
				return nil, err
			}
			msg.NestedType = append(msg.NestedType, nested)
			fdp.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
			fdp.TypeName = proto.String(nestedFull)
		} else {
			wt, err := wireType(t.Kind)
			if err != nil {
				return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeConfig, "unsupported field type").
					WithDetail("field", path)
			}
			fdp.Type = wt.Enum()
		}

		msg.Field = append(msg.Field, fdp)
	}
	return msg, nil
}

// wireType applies the deterministic logical → wire type mapping.
func wireType(k Kind) (descriptorpb.FieldDescriptorProto_Type, error) {
	switch k {
	case KindBool:
		return descriptorpb.FieldDescriptorProto_TYPE_BOOL, nil
	case KindInt8, KindInt16, KindInt32, KindUint8, KindUint16, KindDate32:
		return descriptorpb.FieldDescriptorProto_TYPE_INT32, nil
	case KindInt64, KindDate64, KindTimestamp:
		return descriptorpb.FieldDescriptorProto_TYPE_INT64, nil
	case KindUint32:
		return descriptorpb.FieldDescriptorProto_TYPE_UINT32, nil
	case KindUint64:
		return descriptorpb.FieldDescriptorProto_TYPE_UINT64, nil
	case KindFloat32:
		return descriptorpb.FieldDescriptorProto_TYPE_FLOAT, nil
	case KindFloat64:
		return descriptorpb.FieldDescriptorProto_TYPE_DOUBLE, nil
	case KindString:
		return descriptorpb.FieldDescriptorProto_TYPE_STRING, nil
	case KindBinary:
		return descriptorpb.FieldDescriptorProto_TYPE_BYTES, nil
	}
	return 0, fmt.Errorf("no wire mapping for %s", k)
}

// bindFields pairs logical fields with their resolved descriptors.
func bindFields(fields []Field, md protoreflect.MessageDescriptor, parentPath string) []WireField {
	out := make([]WireField, len(fields))
	for i, f := range fields {
		fd := md.Fields().ByNumber(protoreflect.FieldNumber(i + 1))
		wf := WireField{
			Name:       f.Name,
			Path:       joinPath(parentPath, f.Name),
			Column:     i,
			Logical:    f.Type,
			Nullable:   f.Nullable,
			Repeated:   fd.IsList(),
			Descriptor: fd,
		}
		elem := f.Type
		if elem.Kind == KindList {
			elem = *elem.Elem
		}
		if elem.Kind == KindStruct {
			wf.Nested = bindFields(elem.Fields, fd.Message(), wf.Path)
		}
		out[i] = wf
	}
	return out
}

// scopeNames picks the wire names of fields and the nested message names
// of their struct types, unique within one message. Field names may start
// with a digit, which protobuf forbids; those get leading underscores and
// keep their name as json_name. Nested messages are Nested_<field>,
// numbered when a field already uses that name.
func scopeNames(fields []Field) (wire, types []string) {
	taken := make(map[string]bool, 2*len(fields))
	for _, f := range fields {
		if !startsWithDigit(f.Name) {
			taken[f.Name] = true
		}
	}

	wire = make([]string, len(fields))
	for i, f := range fields {
		name := f.Name
		if startsWithDigit(name) {
			name = "_" + name
			for taken[name] {
				name = "_" + name
			}
			taken[name] = true
		}
		wire[i] = name
	}

	types = make([]string, len(fields))
	for i, f := range fields {
		t := f.Type
		if t.Kind == KindList && t.Elem != nil {
			t = *t.Elem
		}
		if t.Kind != KindStruct {
			continue
		}
		base := "Nested_" + f.Name
		name := base
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		taken[name] = true
		types[i] = name
	}
	return wire, types
}

func startsWithDigit(name string) bool {
	return name != "" && name[0] >= '0' && name[0] <= '9'
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
