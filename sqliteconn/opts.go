package sqliteconn

type InitConnOpts struct {
	SetSynchronous int
	SetJournalMode string
	SetLockingMode string
	MmapSizeOk     bool  // If false, a package-specific default will be used.
	MmapSize       int64 // If MmapSizeOk is set, use sqlite default if < 0, otherwise this value.
}

type InitDbOpts struct {
	DontInitSchema bool
	PageSize       int
}

type NewConnOpts struct {
	// See https://www.sqlite.org/c3ref/open.html. NB: "If the filename is an empty string, then a
	// private, temporary on-disk database will be created. This private database will be
	// automatically deleted as soon as the database connection is closed."
	Path   string
	Memory bool
	// Each keyspace is a database attached under its own name, stored beside Path as
	// "<Path>.<keyspace>". Statements address tables as "<keyspace>.<table>".
	Keyspaces []string
	InitConnOpts
	InitDbOpts
}
