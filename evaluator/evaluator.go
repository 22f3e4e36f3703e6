// Package evaluator implements the change evaluator of spec.md §4.2 (C4):
// a deterministic, pure function from (current configuration, payload) to
// (candidate configuration, verdict). Determinism is the whole point --
// every node must reach the same verdict independently -- so nothing in
// this package may read a clock, a counter, or any other node-local state.
package evaluator

import (
	"fmt"

	"github.com/bhumikasha/terracotta-platform/topology"
	"github.com/bhumikasha/terracotta-platform/wire"
)

// Verdict is the result of evaluating a payload against a configuration.
type Verdict struct {
	Accepted bool
	Reason   string
}

func accept() Verdict { return Verdict{Accepted: true} }

func reject(format string, args ...interface{}) Verdict {
	return Verdict{Accepted: false, Reason: fmt.Sprintf(format, args...)}
}

// Evaluate applies payload to current and returns the candidate
// configuration together with the legality verdict. When the verdict is a
// rejection, the returned candidate is current unchanged (never nil) so
// callers can always use the return value as "what to do if we ignore the
// verdict", though they never should.
func Evaluate(current *topology.Config, payload wire.Payload) (*topology.Config, Verdict) {
	switch payload.Kind {
	case wire.PayloadAttachNode:
		return evalAttachNode(current, payload.AttachNode)
	case wire.PayloadAttachStripe:
		return evalAttachStripe(current, payload.AttachStripe)
	case wire.PayloadDetachNode:
		return evalDetachNode(current, payload.DetachNode)
	case wire.PayloadDetachStripe:
		return evalDetachStripe(current, payload.DetachStripe)
	case wire.PayloadSetSetting:
		return evalSetSetting(current, payload.SetSetting)
	default:
		return current.Clone(), reject("unknown payload kind %v", payload.Kind)
	}
}

func evalAttachNode(current *topology.Config, p *wire.AttachNodePayload) (*topology.Config, Verdict) {
	candidate := current.Clone()

	if p == nil || p.Node.ID == "" {
		return candidate, reject("attach node: node id is required")
	}
	if p.Node.Address == "" {
		return candidate, reject("attach node: node address is required")
	}
	if _, exists := candidate.Nodes[p.Node.ID]; exists {
		return candidate, reject("attach node: node %s already belongs to the cluster", p.Node.ID)
	}
	if candidate.AddressInUse(p.Node.Address, p.Node.ID) {
		return candidate, reject("attach node: address %s conflicts with an existing node", p.Node.Address)
	}
	stripe, exists := candidate.Stripes[p.StripeID]
	if !exists {
		return candidate, reject("attach node: stripe %s does not exist", p.StripeID)
	}

	candidate.Nodes[p.Node.ID] = p.Node.Clone()
	stripe.NodeIDs = append(append([]topology.NodeID(nil), stripe.NodeIDs...), p.Node.ID)
	candidate.Stripes[p.StripeID] = stripe
	candidate.Activated = true
	return candidate, accept()
}

func evalAttachStripe(current *topology.Config, p *wire.AttachStripePayload) (*topology.Config, Verdict) {
	candidate := current.Clone()

	if p == nil || p.Stripe.ID == "" {
		return candidate, reject("attach stripe: stripe id is required")
	}
	if _, exists := candidate.Stripes[p.Stripe.ID]; exists {
		return candidate, reject("attach stripe: stripe %s already exists", p.Stripe.ID)
	}
	for _, nid := range p.Stripe.NodeIDs {
		if _, exists := candidate.Nodes[nid]; exists {
			return candidate, reject("attach stripe: node %s already belongs to the cluster", nid)
		}
	}

	candidate.Stripes[p.Stripe.ID] = p.Stripe.Clone()
	candidate.StripeOrder = append(candidate.StripeOrder, p.Stripe.ID)
	candidate.Activated = true
	return candidate, accept()
}

func evalDetachNode(current *topology.Config, p *wire.DetachNodePayload) (*topology.Config, Verdict) {
	candidate := current.Clone()

	if p == nil || p.NodeID == "" {
		return candidate, reject("detach node: node id is required")
	}
	if _, exists := candidate.Nodes[p.NodeID]; !exists {
		return candidate, reject("detach node: node %s is not part of the cluster", p.NodeID)
	}

	delete(candidate.Nodes, p.NodeID)
	for sid, stripe := range candidate.Stripes {
		filtered := stripe.NodeIDs[:0:0]
		for _, nid := range stripe.NodeIDs {
			if nid != p.NodeID {
				filtered = append(filtered, nid)
			}
		}
		stripe.NodeIDs = filtered
		candidate.Stripes[sid] = stripe
	}
	return candidate, accept()
}

func evalDetachStripe(current *topology.Config, p *wire.DetachStripePayload) (*topology.Config, Verdict) {
	candidate := current.Clone()

	if p == nil || p.StripeID == "" {
		return candidate, reject("detach stripe: stripe id is required")
	}
	stripe, exists := candidate.Stripes[p.StripeID]
	if !exists {
		return candidate, reject("detach stripe: stripe %s does not exist", p.StripeID)
	}
	if len(candidate.Stripes) <= 1 {
		return candidate, reject("detach stripe: %s is the last remaining stripe", p.StripeID)
	}

	for _, nid := range stripe.NodeIDs {
		delete(candidate.Nodes, nid)
	}
	delete(candidate.Stripes, p.StripeID)
	order := make([]topology.StripeID, 0, len(candidate.StripeOrder))
	for _, sid := range candidate.StripeOrder {
		if sid != p.StripeID {
			order = append(order, sid)
		}
	}
	candidate.StripeOrder = order
	return candidate, accept()
}

func evalSetSetting(current *topology.Config, p *wire.SetSettingPayload) (*topology.Config, Verdict) {
	candidate := current.Clone()

	if p == nil || p.Key == "" {
		return candidate, reject("set setting: key is required")
	}
	node, exists := candidate.Nodes[p.NodeID]
	if !exists {
		return candidate, reject("set setting: node %s does not exist", p.NodeID)
	}
	if candidate.Activated && topology.ImmutablePostActivation[p.Key] {
		return candidate, reject("set setting: %s is immutable once the cluster is activated", p.Key)
	}

	if node.Settings == nil {
		node.Settings = make(map[string]string, 1)
	} else {
		node.Settings = node.Clone().Settings
	}
	node.Settings[p.Key] = p.Value
	candidate.Nodes[p.NodeID] = node
	return candidate, accept()
}
