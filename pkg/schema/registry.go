package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"go.uber.org/zap"
)

// SchemaVersion is one registered schema of a subject with its wire form.
type SchemaVersion struct {
	Version     int
	Schema      Schema
	Wire        *WireSchema
	Fingerprint string
	CreatedAt   time.Time
}

// Registry maps and versions the schemas seen per subject (table). Each
// distinct schema is mapped once; later lookups return the cached version.
type Registry struct {
	mapper *Mapper
	logger *zap.Logger

	mu       sync.RWMutex
	subjects map[string][]*SchemaVersion

	// Hooks for schema changes
	onSchemaChange []func(subject string, old, new *SchemaVersion)
}

// NewRegistry creates a registry mapping schemas with mapper.
func NewRegistry(mapper *Mapper, logger *zap.Logger) *Registry {
	if mapper == nil {
		mapper = NewMapper(MapperConfig{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		mapper:   mapper,
		logger:   logger,
		subjects: make(map[string][]*SchemaVersion),
	}
}

// Register returns the version of s under subject, mapping and recording it
// as a new version when it has not been seen before. Mapping failures are
// returned unchanged and nothing is recorded.
func (r *Registry) Register(subject string, s Schema) (*SchemaVersion, error) {
	fp := Fingerprint(s)

	r.mu.RLock()
	existing := r.find(subject, fp)
	r.mu.RUnlock()
	if existing != nil {
		return existing, nil
	}

	wire, err := r.mapper.Map(s)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing := r.find(subject, fp); existing != nil {
		r.mu.Unlock()
		return existing, nil
	}
	versions := r.subjects[subject]
	version := &SchemaVersion{
		Version:     len(versions) + 1,
		Schema:      s,
		Wire:        wire,
		Fingerprint: fp,
		CreatedAt:   time.Now(),
	}
	r.subjects[subject] = append(versions, version)
	hooks := append([]func(string, *SchemaVersion, *SchemaVersion){}, r.onSchemaChange...)
	r.mu.Unlock()

	r.logger.Info("schema registered",
		zap.String("subject", subject),
		zap.Int("version", version.Version),
		zap.Int("wire_fields", wire.FieldCount),
		zap.String("fingerprint", fp))

	if len(versions) > 0 {
		old := versions[len(versions)-1]
		for _, hook := range hooks {
			hook(subject, old, version)
		}
	}
	return version, nil
}

// Get returns a specific version of subject.
func (r *Registry) Get(subject string, version int) (*SchemaVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.subjects[subject]
	if version < 1 || version > len(versions) {
		return nil, ingesterrors.Newf(ingesterrors.ErrorTypeConfig, "schema version %d not found", version).
			WithDetail("subject", subject)
	}
	return versions[version-1], nil
}

// Latest returns the most recently registered version of subject.
func (r *Registry) Latest(subject string) (*SchemaVersion, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.subjects[subject]
	if len(versions) == 0 {
		return nil, false
	}
	return versions[len(versions)-1], true
}

// History returns every version of subject, oldest first.
func (r *Registry) History(subject string) []*SchemaVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*SchemaVersion(nil), r.subjects[subject]...)
}

// OnSchemaChange registers a callback run after a new version of a subject
// is registered. It runs on the registering goroutine.
func (r *Registry) OnSchemaChange(callback func(subject string, old, new *SchemaVersion)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSchemaChange = append(r.onSchemaChange, callback)
}

func (r *Registry) find(subject, fp string) *SchemaVersion {
	for _, v := range r.subjects[subject] {
		if v.Fingerprint == fp {
			return v
		}
	}
	return nil
}

// Fingerprint identifies a schema by its field names, types and
// nullability.
func Fingerprint(s Schema) string {
	var sb strings.Builder
	writeFields(&sb, s.Fields)
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:16])
}

func writeFields(sb *strings.Builder, fields []Field) {
	for _, f := range fields {
		sb.WriteString(f.Name)
		sb.WriteByte(':')
		writeType(sb, f.Type)
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatBool(f.Nullable))
		sb.WriteByte(';')
	}
}

func writeType(sb *strings.Builder, t DataType) {
	sb.WriteString(t.Kind.String())
	switch t.Kind {
	case KindTimestamp:
		sb.WriteByte('/')
		sb.WriteString(strconv.Itoa(int(t.Unit)))
	case KindList:
		sb.WriteByte('<')
		if t.Elem != nil {
			writeType(sb, *t.Elem)
		}
		sb.WriteByte('>')
	case KindStruct:
		sb.WriteByte('{')
		writeFields(sb, t.Fields)
		sb.WriteByte('}')
	}
}
