package role

import (
	"testing"

	"github.com/edupath/authsync/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestParse(t *testing.T) {
	for _, in := range []string{"student", "STUDENT", " Teacher ", "guardian", "admin"} {
		r, err := Parse(in)
		require.NoError(t, err, in)
		assert.True(t, r.Valid())
	}

	_, err := Parse("principal")
	assert.ErrorIs(t, err, ErrUnknown)
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))
	assert.Equal(t, "unknown role: principal", err.Error())

	_, err = Parse("")
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestPredicates(t *testing.T) {
	assert.True(t, Student.IsStudent())
	assert.False(t, Student.IsTeacher())
	assert.True(t, Teacher.IsTeacher())
	assert.True(t, Guardian.IsGuardian())
	assert.True(t, Admin.IsAdmin())
	assert.False(t, Role("").IsAdmin())
}

func TestAuthorized(t *testing.T) {
	tests := []struct {
		name    string
		role    Role
		allowed Set
		want    bool
	}{
		{"empty set admits any role", Guardian, NewSet(), true},
		{"member", Teacher, NewSet(Teacher, Admin), true},
		{"non member", Student, NewSet(Teacher, Admin), false},
		{"missing role with empty set", "", NewSet(), false},
		{"unknown role", Role("janitor"), NewSet(Role("janitor")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authorized(tt.role, tt.allowed))
		})
	}
}

func TestSet(t *testing.T) {
	s, err := ParseSet("Teacher", "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "teacher"}, s.Strings())
	assert.True(t, s.Contains(Teacher))
	assert.False(t, s.Empty())
	assert.True(t, NewSet().Empty())

	_, err = ParseSet("teacher", "nope")
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestHomes(t *testing.T) {
	h := DefaultHomes()
	assert.Equal(t, "/teacher", h.Path(Teacher))
	assert.Equal(t, "/", h.Path(""))

	merged := h.Merge(map[string]string{"student": "learn", "bogus": "/x", "admin": ""})
	assert.Equal(t, "/learn", merged.Path(Student))
	assert.Equal(t, "/admin", merged.Path(Admin))
	assert.Equal(t, "/student", h.Path(Student), "merge must not modify the receiver")
}
