package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/dept-delivery/finsheet/internal/model"
)

// MissingIdentityFieldError means client_name or project_title was blank.
// Partial identity is never allowed: a degenerate hash would silently merge
// unrelated projects.
type MissingIdentityFieldError struct {
	Field string
}

func (e MissingIdentityFieldError) Error() string {
	return fmt.Sprintf("identity: missing required field %s", e.Field)
}

// MergeConflictError means a user-directed merge targets a project that
// already holds allocations from a different source, and no merge policy was
// given. The operator must choose union or override explicitly.
type MergeConflictError struct {
	ProjectID string
	Sources   []string
}

func (e MergeConflictError) Error() string {
	return fmt.Sprintf("identity: project %s already has allocations from %s; merge policy required",
		e.ProjectID, strings.Join(e.Sources, ", "))
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// ProjectID derives the deterministic, content-addressed project identity:
// SHA-256 over the normalized (client, title, file, sheet) tuple, first 16
// hex characters. Case and surrounding/duplicate whitespace never change the
// identity; any genuine difference in the four fields does.
func ProjectID(clientName, projectTitle, sourceFile, sourceSheet string) (string, error) {
	client := normalizeComponent(clientName)
	title := normalizeComponent(projectTitle)

	if client == "" {
		return "", MissingIdentityFieldError{Field: "client_name"}
	}
	if title == "" {
		return "", MissingIdentityFieldError{Field: "project_title"}
	}

	key := strings.Join([]string{
		client,
		title,
		normalizeComponent(sourceFile),
		normalizeComponent(sourceSheet),
	}, "|")

	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16], nil
}

func normalizeComponent(s string) string {
	s = whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	// cases.Caser carries internal state, so fold with a fresh one per call.
	return cases.Fold().String(s)
}

// Decision says how an ingestion relates to prior state for its identity.
type Decision string

const (
	DecisionNew     Decision = "new"     // first sight of this identity
	DecisionReplace Decision = "replace" // same identity seen before: replace in place
	DecisionMerge   Decision = "merge"   // user directed this sheet into another project
)

// Resolution is the resolver's verdict for one sheet.
type Resolution struct {
	ProjectID string
	Decision  Decision
	Existing  *model.Project // prior row for replace/merge, nil for new
	Policy    model.MergePolicy
}

// Request asks for identity resolution of one sheet.
type Request struct {
	ClientName   string
	ProjectTitle string
	SourceFile   string
	SourceSheet  string
	// MergeInto overrides the derived identity with an existing project.
	// Must be explicit; never inferred.
	MergeInto   string
	MergePolicy model.MergePolicy
}

// Catalog is the slice of the store the resolver needs.
type Catalog interface {
	// GetProject returns nil, nil when the project does not exist.
	GetProject(ctx context.Context, projectID string) (*model.Project, error)
	// AllocationSources returns the distinct "file|sheet" pairs that have
	// contributed allocations to the project.
	AllocationSources(ctx context.Context, projectID string) ([]string, error)
}

// Resolver assigns or confirms project identities. Resolution and the write
// that follows it are serialized per key: Resolve returns with the key lock
// held and the caller releases it after its writes land.
type Resolver struct {
	catalog Catalog

	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is a per-project mutex with a holder/waiter count so the entry can
// be dropped from the map once nobody references it.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewResolver creates a Resolver over the given catalog.
func NewResolver(catalog Catalog) *Resolver {
	return &Resolver{
		catalog: catalog,
		locks:   map[string]*keyLock{},
	}
}

// Resolve computes or confirms the identity for req and decides
// new/replace/merge. On success the per-key lock is held; the returned
// release func must be called once dependent writes are done (or abandoned).
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, func(), error) {
	var projectID string
	var err error

	if req.MergeInto != "" {
		projectID = req.MergeInto
	} else {
		projectID, err = ProjectID(req.ClientName, req.ProjectTitle, req.SourceFile, req.SourceSheet)
		if err != nil {
			return nil, nil, err
		}
	}

	release := r.lock(projectID)

	res, err := r.resolveLocked(ctx, projectID, req)
	if err != nil {
		release()
		return nil, nil, err
	}
	return res, release, nil
}

func (r *Resolver) resolveLocked(ctx context.Context, projectID string, req Request) (*Resolution, error) {
	existing, err := r.catalog.GetProject(ctx, projectID)
	if err != nil {
		return nil, eris.Wrapf(err, "identity: look up project %s", projectID)
	}

	if req.MergeInto != "" {
		if existing == nil {
			return nil, eris.Errorf("identity: merge target %s does not exist", req.MergeInto)
		}

		sources, err := r.catalog.AllocationSources(ctx, projectID)
		if err != nil {
			return nil, eris.Wrapf(err, "identity: allocation sources for %s", projectID)
		}
		thisSource := req.SourceFile + "|" + req.SourceSheet
		var others []string
		for _, s := range sources {
			if s != thisSource {
				others = append(others, s)
			}
		}
		if len(others) > 0 && req.MergePolicy == model.MergePolicyNone {
			return nil, MergeConflictError{ProjectID: projectID, Sources: others}
		}

		return &Resolution{
			ProjectID: projectID,
			Decision:  DecisionMerge,
			Existing:  existing,
			Policy:    req.MergePolicy,
		}, nil
	}

	if existing == nil {
		return &Resolution{ProjectID: projectID, Decision: DecisionNew}, nil
	}

	// Same identity means the same (client, title, file, sheet): this is a
	// re-ingestion and the prior batch is replaced in place.
	return &Resolution{ProjectID: projectID, Decision: DecisionReplace, Existing: existing}, nil
}

// lock serializes resolution-plus-write per project key. The map entry lives
// only while someone holds or waits on it; release drops the last reference.
func (r *Resolver) lock(projectID string) func() {
	r.mu.Lock()
	l, ok := r.locks[projectID]
	if !ok {
		l = &keyLock{}
		r.locks[projectID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, projectID)
		}
		r.mu.Unlock()
	}
}
