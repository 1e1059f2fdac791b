package constants

// Advisory lock identifiers. They share the key space of pg_advisory_lock with
// anything else connected to the same database.
const (
	MigrationLock = iota + 5301
	MonitorLock
)

var Locks = []int{
	MigrationLock,
	MonitorLock,
}

const (
	// ProcessCSVTask is the registered name of the import task.
	ProcessCSVTask = "process_csv"

	DefaultMaxAttempts = 3
)
