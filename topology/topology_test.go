package topology

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneIsIndependent(t *testing.T) {
	cfg := Bootstrap()
	cfg.Nodes["n1"] = Node{ID: "n1", Address: "a", Settings: map[string]string{"k": "v"}}
	cfg.Stripes["s1"] = Stripe{ID: "s1", NodeIDs: []NodeID{"n1"}}
	cfg.StripeOrder = []StripeID{"s1"}

	clone := cfg.Clone()
	clone.Nodes["n1"] = Node{ID: "n1", Address: "changed"}
	clone.Stripes["s1"] = Stripe{ID: "s1", NodeIDs: []NodeID{"n1", "n2"}}

	require.Equal(t, "a", cfg.Nodes["n1"].Address)
	require.Len(t, cfg.Stripes["s1"].NodeIDs, 1)
}

func TestEqualIgnoresStripeOrder(t *testing.T) {
	a := Bootstrap()
	a.Nodes["n1"] = Node{ID: "n1", Address: "x"}
	a.Stripes["s1"] = Stripe{ID: "s1", NodeIDs: []NodeID{"n1"}}
	a.Stripes["s2"] = Stripe{ID: "s2"}
	a.StripeOrder = []StripeID{"s1", "s2"}

	b := a.Clone()
	b.StripeOrder = []StripeID{"s2", "s1"}

	require.True(t, a.Equal(b))
}

func TestAddressInUse(t *testing.T) {
	cfg := Bootstrap()
	cfg.Nodes["n1"] = Node{ID: "n1", Address: "10.0.0.1:7072"}

	require.True(t, cfg.AddressInUse("10.0.0.1:7072", "n2"))
	require.False(t, cfg.AddressInUse("10.0.0.1:7072", "n1"))
	require.False(t, cfg.AddressInUse("10.0.0.2:7072", "n2"))
}
