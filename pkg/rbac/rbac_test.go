package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission(RoleService, PermissionSendNotification))
	assert.True(t, HasPermission(RoleService, PermissionReadNotification))
	assert.False(t, HasPermission(RoleService, PermissionReplayOutbox))
	assert.False(t, HasPermission(RoleService, PermissionReadDeadLetter))

	assert.True(t, HasPermission(RoleAdmin, PermissionReplayOutbox))
	assert.True(t, HasPermission(RoleAdmin, PermissionReadDeadLetter))

	assert.False(t, HasPermission("unknown", PermissionSendNotification))
	assert.False(t, HasPermission("", PermissionSendNotification))
}

func TestCheckPermission(t *testing.T) {
	assert.NoError(t, CheckPermission(RoleAdmin, PermissionReplayOutbox))

	err := CheckPermission(RoleService, PermissionReplayOutbox)
	assert.Error(t, err)

	var denied *PermissionDeniedError
	assert.ErrorAs(t, err, &denied)
	assert.Equal(t, RoleService, denied.Role)
	assert.Equal(t, PermissionReplayOutbox, denied.Permission)
}
