package protocol

var workerTypes = map[string]struct{}{
	string(WorkerMsgRegister):     {},
	string(WorkerMsgRequestJob):   {},
	string(WorkerMsgProgress):     {},
	string(WorkerMsgComplete):     {},
	string(WorkerMsgFail):         {},
	string(WorkerMsgHeartbeat):    {},
	string(WorkerMsgStatusUpdate): {},
}

var clientTypes = map[string]struct{}{
	string(ClientMsgSubmitJob): {},
	string(ClientMsgCancelJob): {},
	string(ClientMsgSyncJob):   {},
	string(ClientMsgSubscribe): {},
}

var monitorTypes = map[string]struct{}{
	string(MonitorMsgRequestSnapshot): {},
	string(MonitorMsgResync):          {},
}

// Allowed reports whether a message of the given envelope type may be sent
// by a connection bound to role. This is the runtime defense-in-depth
// check behind the three per-role Go types: whatever type string an
// envelope carries, the hub rejects a type that does not belong to the
// connection's bound role.
func Allowed(role Role, msgType string) bool {
	switch role {
	case RoleWorker:
		_, ok := workerTypes[msgType]
		return ok
	case RoleClient:
		_, ok := clientTypes[msgType]
		return ok
	case RoleMonitor:
		_, ok := monitorTypes[msgType]
		return ok
	default:
		return false
	}
}

// AllowedTypeNames returns the message type names a connection bound to
// role may send, for use in the error a connection gets back when it sends
// a type outside its role's allowlist.
func AllowedTypeNames(role Role) []string {
	var set map[string]struct{}
	switch role {
	case RoleWorker:
		set = workerTypes
	case RoleClient:
		set = clientTypes
	case RoleMonitor:
		set = monitorTypes
	default:
		return nil
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	return names
}
