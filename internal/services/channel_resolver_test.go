package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveChannelIDIsCommutative(t *testing.T) {
	assert.Equal(t, "ana_ben", ResolveChannelID("ana", "ben"))
	assert.Equal(t, "ana_ben", ResolveChannelID("ben", "ana"))
	assert.Equal(t, ResolveChannelID("U2", "U10"), ResolveChannelID("U10", "U2"))
}

func TestResolveChannelIDOrdersASCIIByCodeUnit(t *testing.T) {
	cases := []struct {
		a, b string
		want string
	}{
		{"Zed", "abe", "Zed_abe"},
		{"abe", "Zed", "Zed_abe"},
		{"u10", "u2", "u10_u2"},
		{"AbC", "Abc", "AbC_Abc"},
		{"9fK2", "a0", "9fK2_a0"},
		{"xY7kQ2mN4pR8sT1vW3zA5bC6dE0", "xY7kQ2mN4pR8sT1vW3zA5bC6dE", "xY7kQ2mN4pR8sT1vW3zA5bC6dE_xY7kQ2mN4pR8sT1vW3zA5bC6dE0"},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, ResolveChannelID(tc.a, tc.b), "pair (%s, %s)", tc.a, tc.b)
	}
}

func TestResolveChannelIDDistinguishesPairs(t *testing.T) {
	ids := []string{"a", "b", "ab", "ba", "aa", "U1", "U10"}
	seen := make(map[string][2]string)
	for i, x := range ids {
		for _, y := range ids[i+1:] {
			id := ResolveChannelID(x, y)
			prev, dup := seen[id]
			require.Falsef(t, dup, "%s collides for (%s,%s) and %v", id, x, y, prev)
			seen[id] = [2]string{x, y}
		}
	}
}

func TestParseChannelID(t *testing.T) {
	a, b, err := ParseChannelID(ResolveChannelID("ben", "ana"))
	require.NoError(t, err)
	assert.Equal(t, "ana", a)
	assert.Equal(t, "ben", b)

	for _, bad := range []string{"", "ana", "_ben", "ana_", "ben_ana", "a_b_c"} {
		_, _, err := ParseChannelID(bad)
		assert.ErrorIsf(t, err, ErrInvalidChannelID, "channel id %q", bad)
	}
}

func TestValidateParticipantID(t *testing.T) {
	assert.NoError(t, ValidateParticipantID("ana"))
	assert.ErrorIs(t, ValidateParticipantID(""), ErrInvalidUserID)
	assert.ErrorIs(t, ValidateParticipantID("   "), ErrInvalidUserID)
	assert.ErrorIs(t, ValidateParticipantID("ana_ben"), ErrInvalidUserID)
}
