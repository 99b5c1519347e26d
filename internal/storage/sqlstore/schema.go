package sqlstore

// Tables in dependency order, parents first
var tableNames = []string{
	"identities",
	"repositories",
	"issues",
	"pull_requests",
	"releases",
	"branches",
	"registry_packages",
	"workspace_packages",
}

// schemaStatements run one by one on init; all of them are idempotent.
// The DDL sticks to types both SQLite and PostgreSQL accept.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS identities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		username TEXT NOT NULL,
		description TEXT,
		avatar TEXT,
		tags TEXT,
		workspaces TEXT,
		registry_scopes TEXT,
		user_data TEXT,
		totals TEXT,
		stats TEXT,
		last_updated TEXT,
		cached_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_identities_cached_at ON identities(cached_at)`,
	`CREATE INDEX IF NOT EXISTS idx_identities_expires_at ON identities(expires_at)`,

	`CREATE TABLE IF NOT EXISTS repositories (
		id TEXT PRIMARY KEY,
		identity_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
		upstream_id BIGINT,
		name TEXT NOT NULL,
		full_name TEXT NOT NULL,
		description TEXT,
		private INTEGER NOT NULL DEFAULT 0,
		html_url TEXT,
		clone_url TEXT,
		ssh_url TEXT,
		homepage TEXT,
		language TEXT,
		size INTEGER NOT NULL DEFAULT 0,
		stars INTEGER NOT NULL DEFAULT 0,
		watchers INTEGER NOT NULL DEFAULT 0,
		forks INTEGER NOT NULL DEFAULT 0,
		open_issues INTEGER NOT NULL DEFAULT 0,
		default_branch TEXT,
		created_at TEXT,
		updated_at TEXT,
		pushed_at TEXT,
		archived INTEGER NOT NULL DEFAULT 0,
		disabled INTEGER NOT NULL DEFAULT 0,
		topics TEXT,
		license TEXT,
		cached_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_repositories_identity_id ON repositories(identity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_repositories_cached_at ON repositories(cached_at)`,
	`CREATE INDEX IF NOT EXISTS idx_repositories_expires_at ON repositories(expires_at)`,

	`CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		repository_id TEXT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		upstream_id BIGINT,
		number INTEGER NOT NULL,
		title TEXT NOT NULL,
		body TEXT,
		state TEXT NOT NULL,
		author TEXT,
		labels TEXT,
		assignees TEXT,
		milestone TEXT,
		comments INTEGER NOT NULL DEFAULT 0,
		html_url TEXT,
		created_at TEXT,
		updated_at TEXT,
		closed_at TEXT,
		cached_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_repository_id ON issues(repository_id)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_cached_at ON issues(cached_at)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_expires_at ON issues(expires_at)`,

	`CREATE TABLE IF NOT EXISTS pull_requests (
		id TEXT PRIMARY KEY,
		repository_id TEXT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		upstream_id BIGINT,
		number INTEGER NOT NULL,
		title TEXT NOT NULL,
		body TEXT,
		state TEXT NOT NULL,
		author TEXT,
		head TEXT,
		base TEXT,
		labels TEXT,
		assignees TEXT,
		requested_reviewers TEXT,
		milestone TEXT,
		draft INTEGER NOT NULL DEFAULT 0,
		merged INTEGER NOT NULL DEFAULT 0,
		mergeable INTEGER,
		mergeable_state TEXT,
		comments INTEGER NOT NULL DEFAULT 0,
		review_comments INTEGER NOT NULL DEFAULT 0,
		commits INTEGER NOT NULL DEFAULT 0,
		additions INTEGER NOT NULL DEFAULT 0,
		deletions INTEGER NOT NULL DEFAULT 0,
		changed_files INTEGER NOT NULL DEFAULT 0,
		html_url TEXT,
		created_at TEXT,
		updated_at TEXT,
		closed_at TEXT,
		merged_at TEXT,
		cached_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pull_requests_repository_id ON pull_requests(repository_id)`,
	`CREATE INDEX IF NOT EXISTS idx_pull_requests_cached_at ON pull_requests(cached_at)`,
	`CREATE INDEX IF NOT EXISTS idx_pull_requests_expires_at ON pull_requests(expires_at)`,

	`CREATE TABLE IF NOT EXISTS releases (
		id TEXT PRIMARY KEY,
		repository_id TEXT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		upstream_id BIGINT,
		tag_name TEXT NOT NULL,
		name TEXT,
		body TEXT,
		draft INTEGER NOT NULL DEFAULT 0,
		prerelease INTEGER NOT NULL DEFAULT 0,
		author TEXT,
		assets TEXT,
		html_url TEXT,
		tarball_url TEXT,
		zipball_url TEXT,
		created_at TEXT,
		published_at TEXT,
		cached_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_releases_repository_id ON releases(repository_id)`,
	`CREATE INDEX IF NOT EXISTS idx_releases_cached_at ON releases(cached_at)`,
	`CREATE INDEX IF NOT EXISTS idx_releases_expires_at ON releases(expires_at)`,

	`CREATE TABLE IF NOT EXISTS branches (
		id TEXT PRIMARY KEY,
		repository_id TEXT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		commit_sha TEXT,
		commit_url TEXT,
		protected INTEGER NOT NULL DEFAULT 0,
		cached_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_branches_repository_id ON branches(repository_id)`,
	`CREATE INDEX IF NOT EXISTS idx_branches_cached_at ON branches(cached_at)`,
	`CREATE INDEX IF NOT EXISTS idx_branches_expires_at ON branches(expires_at)`,

	`CREATE TABLE IF NOT EXISTS registry_packages (
		id TEXT PRIMARY KEY,
		scope TEXT,
		name TEXT NOT NULL,
		version TEXT,
		description TEXT,
		keywords TEXT,
		author TEXT,
		maintainers TEXT,
		repository TEXT,
		homepage TEXT,
		license TEXT,
		published_at TEXT,
		links TEXT,
		publisher TEXT,
		score TEXT,
		search_score DOUBLE PRECISION,
		cached_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_registry_packages_scope ON registry_packages(scope)`,
	`CREATE INDEX IF NOT EXISTS idx_registry_packages_cached_at ON registry_packages(cached_at)`,
	`CREATE INDEX IF NOT EXISTS idx_registry_packages_expires_at ON registry_packages(expires_at)`,

	`CREATE TABLE IF NOT EXISTS workspace_packages (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT,
		description TEXT,
		author TEXT,
		license TEXT,
		repository TEXT,
		runtime_deps TEXT,
		dev_deps TEXT,
		internal_deps TEXT,
		dependents TEXT,
		manifest_path TEXT,
		cached_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workspace_packages_cached_at ON workspace_packages(cached_at)`,
	`CREATE INDEX IF NOT EXISTS idx_workspace_packages_expires_at ON workspace_packages(expires_at)`,
}
