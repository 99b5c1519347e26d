package domain

import (
	"strings"
	"time"
)

// RegistryPerson is an author, maintainer or publisher of a registry package
type RegistryPerson struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// RegistryRepository is the source repository a package declares
type RegistryRepository struct {
	Type string `json:"type,omitempty"`
	URL  string `json:"url"`
}

// RegistryScoreDetail breaks the registry quality score down
type RegistryScoreDetail struct {
	Quality     float64 `json:"quality"`
	Popularity  float64 `json:"popularity"`
	Maintenance float64 `json:"maintenance"`
}

// RegistryScore is the quality score the registry search returns
type RegistryScore struct {
	Final  float64             `json:"final"`
	Detail RegistryScoreDetail `json:"detail"`
}

// RegistryPackage represents a package published to the public registry.
// ID is "<scope>/<name>" where name is the unscoped part.
type RegistryPackage struct {
	ID          string              `json:"id"`
	Scope       string              `json:"scope"`
	Name        string              `json:"name"`
	Version     string              `json:"version"`
	Description string              `json:"description,omitempty"`
	Keywords    []string            `json:"keywords"`
	Author      *RegistryPerson     `json:"author,omitempty"`
	Maintainers []RegistryPerson    `json:"maintainers"`
	Repository  *RegistryRepository `json:"repository,omitempty"`
	Homepage    string              `json:"homepage,omitempty"`
	License     string              `json:"license,omitempty"`
	PublishedAt *time.Time          `json:"publishedAt,omitempty"`
	Links       map[string]string   `json:"links,omitempty"`
	Publisher   *RegistryPerson     `json:"publisher,omitempty"`
	Score       *RegistryScore      `json:"score,omitempty"`
	// SearchScore is kept for ranking; nothing orders by it yet.
	SearchScore float64 `json:"searchScore,omitempty"`
}

// FullName returns the package's registry name, e.g. "@org/pkg"
func (p RegistryPackage) FullName() string {
	return p.ID
}

// SplitPackageName splits "@scope/name" into ("@scope", "name").
// Unscoped names return ("", name).
func SplitPackageName(fullName string) (scope, name string) {
	if strings.HasPrefix(fullName, "@") {
		if s, n, ok := strings.Cut(fullName, "/"); ok {
			return s, n
		}
	}
	return "", fullName
}
