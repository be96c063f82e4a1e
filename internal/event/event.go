// Package event defines the immutable event record and the scope triple that
// addresses every log in the system.
package event

import (
	"fmt"
	"regexp"
	"time"
)

// Event is created once at ingestion and never mutated. Seq is assigned by
// the log store and is gapless within one (tenant, project, topic) log.
type Event struct {
	ID          string
	Tenant      string
	Project     string
	Topic       string
	Type        string
	Payload     []byte
	Seq         uint64
	PublishedAt time.Time
}

// Scope identifies the (tenant, project) ownership boundary.
type Scope struct {
	Tenant  string
	Project string
}

func (s Scope) String() string { return s.Tenant + "/" + s.Project }

// Valid reports whether both parts are present and well formed.
func (s Scope) Valid() bool {
	return scopePartRe.MatchString(s.Tenant) && scopePartRe.MatchString(s.Project)
}

var scopePartRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Ref is the fully qualified address of one topic log.
type Ref struct {
	Scope Scope
	Topic string
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.Scope, r.Topic)
}
