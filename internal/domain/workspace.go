package domain

// ManifestInfo is the descriptive part of a package manifest
type ManifestInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	License     string `json:"license,omitempty"`
	Repository  string `json:"repository,omitempty"`
}

// Dependency is one entry of a manifest's dependency map
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// WorkspacePackage is a parsed manifest found in the local workspace.
// Dependents holds names only; it is derived from the interdependency edges.
type WorkspacePackage struct {
	Package      ManifestInfo `json:"package"`
	RuntimeDeps  []Dependency `json:"runtimeDeps"`
	DevDeps      []Dependency `json:"devDeps"`
	InternalDeps []Dependency `json:"internalDeps"`
	Dependents   []string     `json:"dependents"`
	ManifestPath string       `json:"manifestPath"`
}

// Interdependency is an edge between two workspace packages
type Interdependency struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Version string `json:"version"`
}

// CrossDependency is an edge from a workspace package to a registry package
type CrossDependency struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Version string `json:"version"`
	ToScope string `json:"toScope"`
}

// RegistryScope groups the published packages of one configured scope
type RegistryScope struct {
	Scope      string            `json:"scope"`
	Packages   []RegistryPackage `json:"packages"`
	IdentityID string            `json:"identityId"`
}

// EnhancedGraph joins workspace packages with registry packages and their edges
type EnhancedGraph struct {
	Repositories      []WorkspacePackage       `json:"repositories"`
	Organizations     map[string][]string      `json:"organizations"`
	Interdependencies []Interdependency        `json:"interdependencies"`
	RegistryScopes    map[string]RegistryScope `json:"registryScopes"`
	RegistryPackages  []RegistryPackage        `json:"registryPackages"`
	CrossDependencies []CrossDependency        `json:"crossDependencies"`
}
