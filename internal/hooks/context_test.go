package hooks

import "testing"

func TestHookContextSharedState(t *testing.T) {
	root := NewHookContext()
	root.SetState("key", []byte(`"value"`))

	child := root.CreateChild()
	v, ok := child.GetState("key")
	if !ok || string(v) != `"value"` {
		t.Fatalf("expected child to see parent's shared state, got %q ok=%v", v, ok)
	}

	child.SetState("other", []byte(`1`))
	if _, ok := root.GetState("other"); !ok {
		t.Fatalf("expected parent to see child's write to shared state")
	}
}

func TestHookContextCancellationIsShared(t *testing.T) {
	root := NewHookContext()
	child := root.CreateChild()

	if root.IsCancelled() || child.IsCancelled() {
		t.Fatalf("expected neither context cancelled initially")
	}
	child.Cancel()
	if !root.IsCancelled() {
		t.Fatalf("expected cancellation to propagate to parent")
	}
}

func TestHookContextTypedSlotsArePrivate(t *testing.T) {
	type marker struct{ N int }

	root := NewHookContext()
	SetTypedSlot(root, marker{N: 1})

	child := root.CreateChild()
	if _, ok := TypedSlot[marker](child); ok {
		t.Fatalf("expected child to start with empty typed storage")
	}

	v, ok := TypedSlot[marker](root)
	if !ok || v.N != 1 {
		t.Fatalf("expected root to retain its own typed slot, got %+v ok=%v", v, ok)
	}
}

func TestHookContextBuilder(t *testing.T) {
	parent := NewHookContext()
	ctx := NewHookContextBuilder().
		WithRequestData([]byte(`{"a":1}`)).
		WithUserID("u1").
		WithParent(parent).
		Build()

	if _, ok := ctx.RequestData(); !ok {
		t.Fatalf("expected request data to be set")
	}
	userID, ok := ctx.UserID()
	if !ok || userID != "u1" {
		t.Fatalf("expected user id u1, got %q ok=%v", userID, ok)
	}
	if p, ok := ctx.Parent(); !ok || p != parent {
		t.Fatalf("expected parent link to be set")
	}
}
