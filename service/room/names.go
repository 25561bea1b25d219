package room

import "strings"

// Global is the single room every process shares.
const Global = "global"

type Kind string

const (
	KindWorkflow Kind = "workflow"
	KindUser     Kind = "user"
	KindOrg      Kind = "org"
	KindGlobal   Kind = "global"
	KindUnknown  Kind = ""
)

func Workflow(id string) string { return string(KindWorkflow) + ":" + id }
func User(id string) string     { return string(KindUser) + ":" + id }
func Org(id string) string      { return string(KindOrg) + ":" + id }

// Parse splits a room id into its kind and the id after the prefix. Names
// with an unknown prefix or an empty id yield KindUnknown.
func Parse(roomID string) (Kind, string) {
	if roomID == Global {
		return KindGlobal, ""
	}
	prefix, id, ok := strings.Cut(roomID, ":")
	if !ok || id == "" {
		return KindUnknown, ""
	}
	switch k := Kind(prefix); k {
	case KindWorkflow, KindUser, KindOrg:
		return k, id
	}
	return KindUnknown, ""
}

func KindOf(roomID string) Kind {
	k, _ := Parse(roomID)
	return k
}
