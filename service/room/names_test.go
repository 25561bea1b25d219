package room

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	require.Equal(t, "workflow:42", Workflow("42"))
	require.Equal(t, "user:u1", User("u1"))
	require.Equal(t, "org:o1", Org("o1"))

	cases := map[string]struct {
		kind Kind
		id   string
	}{
		"workflow:42":  {KindWorkflow, "42"},
		"user:abc:def": {KindUser, "abc:def"},
		"org:o1":       {KindOrg, "o1"},
		"global":       {KindGlobal, ""},
		"workflow:":    {KindUnknown, ""},
		"lobby":        {KindUnknown, ""},
		"team:7":       {KindUnknown, ""},
	}
	for in, want := range cases {
		k, id := Parse(in)
		require.Equal(t, want.kind, k, in)
		require.Equal(t, want.id, id, in)
	}
	require.Equal(t, KindOrg, KindOf("org:x"))
}
