package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowedEnforcesDisjointRoleSets(t *testing.T) {
	assert.True(t, Allowed(RoleWorker, string(WorkerMsgRequestJob)))
	assert.False(t, Allowed(RoleClient, string(WorkerMsgRequestJob)))
	assert.False(t, Allowed(RoleMonitor, string(WorkerMsgRequestJob)))

	assert.True(t, Allowed(RoleClient, string(ClientMsgSubmitJob)))
	assert.False(t, Allowed(RoleWorker, string(ClientMsgSubmitJob)))

	assert.True(t, Allowed(RoleMonitor, string(MonitorMsgRequestSnapshot)))
	assert.False(t, Allowed(RoleClient, string(MonitorMsgRequestSnapshot)))
}

func TestAllowedRejectsUnknownTypeAndRole(t *testing.T) {
	assert.False(t, Allowed(RoleWorker, "not_a_real_type"))
	assert.False(t, Allowed(Role("admin"), string(WorkerMsgHeartbeat)))
}
