package contracts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuild_IdempotencyKeyStableForEqualPayloads(t *testing.T) {
	p1 := QAResultPayload{PlanID: "p1", TaskID: "t1", Passed: true, Issues: []string{}}
	env1, err := Build(EventQAPassed, "qa", p1)
	require.NoError(t, err)

	env2, err := Build(EventQAPassed, "qa", p1)
	require.NoError(t, err)

	require.Equal(t, env1.IdempotencyKey, env2.IdempotencyKey, "same (event_type, payload) must hash identically")
	require.NotEqual(t, env1.EventID, env2.EventID, "event_id must differ across builds")
}

func TestBuild_DifferentPayloadDifferentKey(t *testing.T) {
	env1, err := Build(EventQAPassed, "qa", QAResultPayload{PlanID: "p1", TaskID: "t1"})
	require.NoError(t, err)
	env2, err := Build(EventQAPassed, "qa", QAResultPayload{PlanID: "p1", TaskID: "t2"})
	require.NoError(t, err)

	require.NotEqual(t, env1.IdempotencyKey, env2.IdempotencyKey)
}

func TestBuild_UnknownEventTypeRejected(t *testing.T) {
	_, err := Build(EventType("bogus.event"), "qa", struct{}{})
	require.Error(t, err)
}

func TestValidate_RejectsUnknownEventType(t *testing.T) {
	_, err := Validate([]byte(`{"event_type":"bogus.event"}`))
	require.Error(t, err)
}

func TestCanonicalJSON_SortsKeysRecursively(t *testing.T) {
	a, err := CanonicalJSON([]byte(`{"b":1,"a":{"z":1,"y":2}}`))
	require.NoError(t, err)
	b, err := CanonicalJSON([]byte(`{"a":{"y":2,"z":1},"b":1}`))
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))
}

func TestEnvelope_DecodePayload(t *testing.T) {
	want := CodeGeneratedPayload{PlanID: "p", TaskID: "t", FilePath: "a.py", Code: "print(1)", Language: "python"}
	env, err := Build(EventCodeGenerated, "developer", want)
	require.NoError(t, err)

	var got CodeGeneratedPayload
	require.NoError(t, env.DecodePayload(&got))
	require.Equal(t, want, got)
}
