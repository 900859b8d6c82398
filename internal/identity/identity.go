// Package identity maps Redfish System identifiers onto backend native identifiers.
//
// Nothing is cached, every call enumerates the backend again so freshly created
// machines are visible immediately.
package identity

import (
	"context"
	"iter"
	"strings"
	"unicode"

	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/store/backend"
	"github.com/pkg/errors"
)

// CollisionPolicy decides the external ids of machines sharing a display name.
type CollisionPolicy string

const (
	// PolicySuffix publishes every colliding machine as name-<backend id prefix>.
	PolicySuffix CollisionPolicy = "suffix"
	// PolicyBackendID publishes every colliding machine under its backend id.
	PolicyBackendID CollisionPolicy = "uuid"
	// PolicyFirst keeps the bare name for the first machine and suffixes the others.
	PolicyFirst CollisionPolicy = "first"

	suffixLength = 8
)

var (
	ErrUnknownCollisionPolicy = errors.New("unknown identity collision policy")
)

// ParseCollisionPolicy validates a configured policy, empty selects PolicySuffix.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch p := CollisionPolicy(strings.ToLower(s)); p {
	case "":
		return PolicySuffix, nil
	case PolicySuffix, PolicyBackendID, PolicyFirst:
		return p, nil
	default:
		return "", errors.Wrapf(ErrUnknownCollisionPolicy, "%q", s)
	}
}

// Enumerator lists the machines of a backend.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]backend.Object, error)
}

// Mapper translates between external and backend identifiers of one backend.
type Mapper struct {
	source Enumerator
	policy CollisionPolicy
}

// New returns a Mapper over the machines reported by source.
func New(source Enumerator, policy CollisionPolicy) *Mapper {
	if policy == "" {
		policy = PolicySuffix
	}

	return &Mapper{source: source, policy: policy}
}

// All yields the identities of the current backend population.
//
// Ranging over the sequence again enumerates the backend again.
func (m *Mapper) All(ctx context.Context) iter.Seq2[model.Identity, error] {
	return func(yield func(model.Identity, error) bool) {
		objects, err := m.source.Enumerate(ctx)
		if err != nil {
			yield(model.Identity{}, err)
			return
		}

		for _, id := range m.assign(objects) {
			if !yield(id, nil) {
				return
			}
		}
	}
}

// List collects All, a backend without machines yields an empty slice.
func (m *Mapper) List(ctx context.Context) ([]model.Identity, error) {
	identities := []model.Identity{}

	for id, err := range m.All(ctx) {
		if err != nil {
			return nil, err
		}

		identities = append(identities, id)
	}

	return identities, nil
}

// Resolve returns the backend id of the machine published as externalID.
//
// The backend id and the machine UUID are accepted as aliases.
func (m *Mapper) Resolve(ctx context.Context, externalID string) (string, error) {
	obj, err := m.Lookup(ctx, externalID)
	if err != nil {
		return "", err
	}

	return obj.ID, nil
}

// Lookup returns the backend object of the machine published as externalID.
func (m *Mapper) Lookup(ctx context.Context, externalID string) (backend.Object, error) {
	if strings.TrimSpace(externalID) == "" {
		return backend.Object{}, model.Public(model.ErrInvalidRequest, "empty system identifier")
	}

	objects, err := m.source.Enumerate(ctx)
	if err != nil {
		return backend.Object{}, err
	}

	for i, id := range m.assign(objects) {
		if id.ExternalID == externalID {
			return objects[i], nil
		}
	}

	for _, obj := range objects {
		if obj.ID == externalID || (obj.UUID != "" && strings.EqualFold(obj.UUID, externalID)) {
			return obj, nil
		}
	}

	return backend.Object{}, model.Public(model.ErrNotFound, "system %s not found", externalID)
}

// assign computes the external id of every object, preserving the backend order.
func (m *Mapper) assign(objects []backend.Object) []model.Identity {
	counts := make(map[string]int, len(objects))
	for _, obj := range objects {
		counts[displayName(obj)]++
	}

	taken := make(map[string]bool, len(objects))
	for name, n := range counts {
		if n == 1 {
			taken[name] = true
		}
	}

	identities := make([]model.Identity, 0, len(objects))
	seen := map[string]bool{}

	for _, obj := range objects {
		name := displayName(obj)
		external := name

		if counts[name] > 1 {
			switch {
			case m.policy == PolicyFirst && !seen[name]:
				seen[name] = true
				taken[name] = true
			case m.policy == PolicyBackendID:
				external = obj.ID
			default:
				external = suffixed(name, obj.ID, taken)
			}
		}

		taken[external] = true

		identities = append(identities, model.Identity{ExternalID: external, BackendID: obj.ID})
	}

	return identities
}

// displayName prefers the human readable label over the opaque identifier.
func displayName(obj backend.Object) string {
	if obj.Name != "" {
		return obj.Name
	}

	if obj.UUID != "" {
		return obj.UUID
	}

	return obj.ID
}

// suffixed appends a short form of the backend id, the full id when the short form is taken.
func suffixed(name, backendID string, taken map[string]bool) string {
	short := make([]rune, 0, suffixLength)

	for _, r := range backendID {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			short = append(short, unicode.ToLower(r))
		}

		if len(short) == suffixLength {
			break
		}
	}

	candidate := name + "-" + string(short)
	if !taken[candidate] {
		return candidate
	}

	return name + "-" + backendID
}
