package configuration

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Registry holds the named forks.
type Registry struct {
	mu    sync.RWMutex
	forks map[string]ModelFork
	order []string
}

// NewRegistry returns a registry holding the built-in forks.
func NewRegistry() *Registry {
	r := &Registry{forks: make(map[string]ModelFork)}
	for _, f := range Builtins() {
		r.put(f)
	}
	return r
}

func (r *Registry) put(f ModelFork) {
	if _, ok := r.forks[f.Name]; !ok {
		r.order = append(r.order, f.Name)
	}
	r.forks[f.Name] = f.Clone()
}

// Register adds or replaces a fork after validating it.
func (r *Registry) Register(f ModelFork) error {
	if err := f.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(f)
	return nil
}

// Get returns a deep copy of the named fork.
func (r *Registry) Get(name string) (ModelFork, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.forks[name]
	if !ok {
		return ModelFork{}, eris.Wrapf(ErrUnknownConfiguration, "name %q", name)
	}
	return f.Clone(), nil
}

// Names lists registered forks in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

type registryFile struct {
	Forks []ModelFork `yaml:"forks"`
}

// LoadFile registers every fork of a YAML file, replacing built-ins with
// the same name.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "configuration: read %s", path)
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return eris.Wrapf(err, "configuration: parse %s", path)
	}
	for _, f := range file.Forks {
		if err := r.Register(f); err != nil {
			return eris.Wrapf(err, "configuration: fork %q in %s", f.Name, path)
		}
	}
	return nil
}

// Resolve returns the fork for a request. An empty override selects
// fallback; a registered name selects that fork; anything else must be a
// base64-encoded JSON fork or configuration.
func (r *Registry) Resolve(override *string, fallback string, kind ForkKind) (ModelFork, error) {
	if override == nil || *override == "" {
		return r.Get(fallback)
	}
	if f, err := r.Get(*override); err == nil {
		return f, nil
	}
	return Decode(*override, kind)
}

// Encode returns the base64 JSON form of a fork, as accepted by Decode.
func Encode(f ModelFork) (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", eris.Wrap(err, "configuration: encode fork")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode parses a base64 JSON override. The payload is either a full fork
// (it has a "warm" key) or a single configuration used for both variants.
// Errors wrap ErrInvalidOverride.
func Decode(encoded string, kind ForkKind) (ModelFork, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			return ModelFork{}, eris.Wrap(ErrInvalidOverride, "not a registered name nor base64")
		}
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return ModelFork{}, eris.Wrapf(ErrInvalidOverride, "invalid json: %s", err.Error())
	}

	var f ModelFork
	if _, isFork := probe["warm"]; isFork {
		if err := strictUnmarshal(data, &f); err != nil {
			return ModelFork{}, err
		}
		if f.Kind == "" {
			f.Kind = kind
		}
	} else {
		var c ModelConfiguration
		if err := strictUnmarshal(data, &c); err != nil {
			return ModelFork{}, err
		}
		f = ModelFork{Name: c.Name, Kind: kind, Thresholds: DefaultUserThresholds(), Warm: c, Cold: c.Clone()}
		if kind == ForkOffer {
			f.Thresholds = DefaultOfferThresholds()
		}
	}
	if f.Name == "" {
		f.Name = "override"
	}
	if err := f.Validate(); err != nil {
		return ModelFork{}, err
	}
	return f, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return eris.Wrapf(ErrInvalidOverride, "invalid json: %s", err.Error())
	}
	return nil
}
