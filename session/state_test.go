package session

import (
	"testing"

	"github.com/edupath/authsync/backend"
	"github.com/edupath/authsync/idp/idptest"
	"github.com/edupath/authsync/role"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateHelpers(t *testing.T) {
	var st State
	assert.False(t, st.Authenticated())
	assert.Equal(t, role.Role(""), st.Role())
	assert.Empty(t, st.UID())
	assert.False(t, st.Authorized())

	p := idptest.New(idptest.WithAccount(teacher))
	u, err := p.SignIn(t.Context(), teacher.Email, teacher.Password)
	require.NoError(t, err)

	st.Identity = &Identity{User: u, Role: role.Guardian}
	assert.True(t, st.Authenticated())
	assert.Equal(t, teacher.UID, st.UID())
	assert.True(t, st.Authorized())
	assert.True(t, st.Authorized(role.Guardian, role.Admin))
	assert.False(t, st.Authorized(role.Student))
}

func TestResolveRole(t *testing.T) {
	p := idptest.New(idptest.WithAccount(admin))
	u, err := p.SignIn(t.Context(), admin.Email, admin.Password)
	require.NoError(t, err)
	token, err := u.IDToken(t.Context(), false)
	require.NoError(t, err)

	assert.Equal(t, role.Admin, resolveRole(nil, token), "claim is used without a profile")
	assert.Equal(t, role.Teacher, resolveRole(&backend.Profile{Role: role.Teacher}, token), "profile wins")
	assert.Equal(t, role.Role(""), resolveRole(&backend.Profile{Role: "janitor"}, token),
		"an unknown profile role does not fall back to the claim")
	assert.Equal(t, role.Role(""), resolveRole(nil, "garbage"))
}
