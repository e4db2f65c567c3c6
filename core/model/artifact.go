package model

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

// artifactMagic prefixes every artifact file.
var artifactMagic = []byte("LRSK")

// Artifact is a persistable fitted object.
type Artifact interface {
	// ArtifactType is the name the concrete type was registered under.
	ArtifactType() string
	ArtifactKind() ArtifactKind
}

// ArtifactMeta is written into the header next to the payload.
type ArtifactMeta struct {
	Fingerprint  string
	FeatureNames []string
}

type envelope struct {
	Header  ArtifactHeader `msgpack:"header"`
	Payload []byte         `msgpack:"payload"`
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Artifact{}
)

// RegisterArtifact makes a concrete type loadable. factory must return a
// pointer the payload can be decoded into. Packages call it from init, and a
// duplicate name panics, as with gob.Register.
func RegisterArtifact(typeName string, factory func() Artifact) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[typeName]; dup {
		panic(fmt.Sprintf("model: RegisterArtifact called twice for %q", typeName))
	}
	registry[typeName] = factory
}

// RegisteredArtifacts lists the registered type names in sorted order.
func RegisteredArtifacts() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteArtifact encodes a to w.
func WriteArtifact(w io.Writer, a Artifact, meta ArtifactMeta) error {
	payload, err := msgpack.Marshal(a)
	if err != nil {
		return errors.Wrapf(err, "encode %s payload", a.ArtifactType())
	}
	env := envelope{
		Header: ArtifactHeader{
			Format:       ArtifactFormat,
			Version:      FormatVersion,
			Kind:         a.ArtifactKind(),
			Type:         a.ArtifactType(),
			Fingerprint:  meta.Fingerprint,
			FeatureNames: meta.FeatureNames,
		},
		Payload: payload,
	}
	if pg, ok := a.(ParameterGetter); ok {
		env.Header.Hyperparameters = pg.GetParams()
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(artifactMagic); err != nil {
		return errors.Wrap(err, "write artifact magic")
	}
	if err := msgpack.NewEncoder(bw).Encode(&env); err != nil {
		return errors.Wrap(err, "encode artifact envelope")
	}
	return bw.Flush()
}

// ReadArtifact decodes an artifact from r. source names the input in errors.
func ReadArtifact(r io.Reader, source string) (Artifact, ArtifactHeader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ArtifactHeader{}, errors.Wrapf(err, "read artifact %s", source)
	}
	if !bytes.HasPrefix(data, artifactMagic) {
		return nil, ArtifactHeader{}, errors.NewArtifactError(source, "not a loanrisk artifact (bad magic)")
	}

	var env envelope
	if err := msgpack.Unmarshal(data[len(artifactMagic):], &env); err != nil {
		return nil, ArtifactHeader{}, errors.NewArtifactError(source, "corrupt envelope: "+err.Error())
	}
	if err := env.Header.Validate(); err != nil {
		return nil, env.Header, errors.NewArtifactError(source, err.Error())
	}

	registryMu.RLock()
	factory, ok := registry[env.Header.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, env.Header, errors.NewArtifactError(source, fmt.Sprintf("unregistered artifact type %q", env.Header.Type))
	}

	a := factory()
	if err := msgpack.Unmarshal(env.Payload, a); err != nil {
		return nil, env.Header, errors.NewArtifactError(source, "corrupt payload: "+err.Error())
	}
	if a.ArtifactKind() != env.Header.Kind {
		return nil, env.Header, errors.NewArtifactError(source,
			fmt.Sprintf("header kind %q does not match payload kind %q", env.Header.Kind, a.ArtifactKind()))
	}
	if v, ok := a.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, env.Header, errors.NewArtifactError(source, err.Error())
		}
	}
	return a, env.Header, nil
}

// SaveArtifact writes a to path, creating parent directories. The file is
// written to a temporary name first and renamed, so readers never observe a
// partial artifact.
func SaveArtifact(path string, a Artifact, meta ArtifactMeta) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create artifact directory %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return errors.Wrap(err, "create temporary artifact file")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := WriteArtifact(tmp, a, meta); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "sync artifact")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close artifact")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "move artifact into place at %s", path)
	}
	return nil
}

// LoadArtifact reads the artifact at path. A missing file is a NotFoundError.
func LoadArtifact(path string) (Artifact, ArtifactHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ArtifactHeader{}, errors.NewNotFoundError("artifact", path)
		}
		return nil, ArtifactHeader{}, errors.Wrapf(err, "open artifact %s", path)
	}
	defer f.Close()
	return ReadArtifact(f, path)
}
