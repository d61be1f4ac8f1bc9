package network

import (
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/ZentaChain/talkrelay/pkg/protocol"
)

// ConfirmationPromptFormat is the prompt sent ahead of every binary payload
const ConfirmationPromptFormat = "%s would like to send you an Image. Would you like to Download it? (Yes/No)"

// ShutdownReason is the text of the close sent when the relay stops
const ShutdownReason = "Shut Down"

// DeliveryStatus is the outcome of one routing operation. It is logged and
// counted but never reported back to the sender.
type DeliveryStatus uint8

const (
	StatusDelivered DeliveryStatus = iota + 1
	StatusAwaitingConfirmation
	StatusRecipientOffline
	StatusDeclined
	StatusNothingPending
	StatusFailed
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusAwaitingConfirmation:
		return "awaiting_confirmation"
	case StatusRecipientOffline:
		return "recipient_offline"
	case StatusDeclined:
		return "declined"
	case StatusNothingPending:
		return "nothing_pending"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// BroadcastResult reports the per-recipient outcome of a fan-out
type BroadcastResult struct {
	Statuses map[string]DeliveryStatus
}

// Count returns how many recipients ended with status
func (r BroadcastResult) Count(status DeliveryStatus) int {
	n := 0
	for _, s := range r.Statuses {
		if s == status {
			n++
		}
	}
	return n
}

// Dispatcher performs the cross-session side of routing. All state lives in
// the registry and in each session's pending queue.
type Dispatcher struct {
	registry *Registry
	metrics  *relayMetrics

	relayed atomic.Uint64
}

func NewDispatcher(registry *Registry, metrics *relayMetrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		metrics:  metrics,
	}
}

// Relayed returns how many envelopes reached a target stream
func (d *Dispatcher) Relayed() uint64 {
	return d.relayed.Load()
}

// Roster builds the roster-response for requester
func (d *Dispatcher) Roster(requester string) protocol.Envelope {
	return protocol.MustNew(
		protocol.KindRosterResponse,
		protocol.ServerName,
		requester,
		protocol.Names(d.registry.SnapshotOthers(requester)),
	)
}

// ForwardText delivers a text-direct-request to its recipient as a receipt
func (d *Dispatcher) ForwardText(env protocol.Envelope) DeliveryStatus {
	target, ok := d.registry.Lookup(env.Recipient())
	if !ok {
		return d.finish(env, StatusRecipientOffline)
	}

	text, _ := env.Text()
	return d.finish(env, d.deliverText(protocol.KindTextDirectReceipt, env.Sender(), target, text))
}

// OfferBinary parks the payload on the recipient's pending queue and asks the
// recipient to confirm. The payload itself is not sent.
func (d *Dispatcher) OfferBinary(env protocol.Envelope) DeliveryStatus {
	target, ok := d.registry.Lookup(env.Recipient())
	if !ok {
		return d.finish(env, StatusRecipientOffline)
	}

	blob, _ := env.Binary()
	return d.finish(env, d.offer(env.Sender(), target, blob))
}

// ResolveConfirmation applies responder's answer to the oldest binary that
// env.Recipient() offered it. On yes the stored receipt goes to the
// responder's own stream unchanged; on no it is dropped without notice.
func (d *Dispatcher) ResolveConfirmation(responder *Session, env protocol.Envelope) DeliveryStatus {
	original := env.Recipient()
	accepted, _ := env.Bool()
	queue := responder.Pending()

	if !accepted {
		if !queue.Discard(original, responder.Username()) {
			return d.finish(env, StatusNothingPending)
		}
		d.metrics.addPending(-1)
		return d.finish(env, StatusDeclined)
	}

	stored, ok := queue.Take(original, responder.Username())
	if !ok {
		return d.finish(env, StatusNothingPending)
	}
	d.metrics.addPending(-1)

	if err := responder.Send(stored); err != nil {
		return d.finish(env, StatusFailed)
	}
	d.relayed.Add(1)
	return d.finish(env, StatusDelivered)
}

// BroadcastText sends a text-broadcast-receipt to every other online session
func (d *Dispatcher) BroadcastText(env protocol.Envelope) BroadcastResult {
	text, _ := env.Text()
	targets := d.registry.SessionsExcept(env.Sender())

	result := BroadcastResult{Statuses: make(map[string]DeliveryStatus, len(targets))}
	for _, target := range targets {
		status := d.deliverText(protocol.KindTextBroadcastReceipt, env.Sender(), target, text)
		result.Statuses[target.Username()] = status
		d.metrics.recordDelivery(status)
	}

	d.logBroadcast(env, result)
	return result
}

// BroadcastBinary runs the confirmation handshake independently with every
// other online session
func (d *Dispatcher) BroadcastBinary(env protocol.Envelope) BroadcastResult {
	blob, _ := env.Binary()
	targets := d.registry.SessionsExcept(env.Sender())

	result := BroadcastResult{Statuses: make(map[string]DeliveryStatus, len(targets))}
	for _, target := range targets {
		status := d.offer(env.Sender(), target, blob)
		result.Statuses[target.Username()] = status
		d.metrics.recordDelivery(status)
	}

	d.logBroadcast(env, result)
	return result
}

// Shutdown tells every online session that the relay is going away
func (d *Dispatcher) Shutdown(reason string) int {
	notified := 0
	for _, target := range d.registry.SessionsExcept("") {
		closeEnv := protocol.MustNew(protocol.KindCloseConnection, protocol.ServerName, target.Username(), protocol.Text(reason))
		if err := target.Send(closeEnv); err == nil {
			notified++
		}
	}
	return notified
}

func (d *Dispatcher) deliverText(kind protocol.Kind, sender string, target *Session, text string) DeliveryStatus {
	receipt, err := protocol.New(kind, sender, target.Username(), protocol.Text(text))
	if err != nil {
		return StatusFailed
	}
	if err := target.Send(receipt); err != nil {
		return StatusFailed
	}
	d.relayed.Add(1)
	return StatusDelivered
}

func (d *Dispatcher) offer(sender string, target *Session, blob []byte) DeliveryStatus {
	receipt, err := protocol.New(protocol.KindBinaryDirectReceipt, sender, target.Username(), protocol.Binary(blob))
	if err != nil {
		return StatusFailed
	}

	prompt, err := protocol.New(
		protocol.KindBinaryConfirmationRequest,
		sender,
		target.Username(),
		protocol.Text(fmt.Sprintf(ConfirmationPromptFormat, sender)),
	)
	if err != nil {
		return StatusFailed
	}

	target.Pending().Enqueue(receipt)
	d.metrics.addPending(1)

	if err := target.Send(prompt); err != nil {
		if target.Pending().Discard(sender, target.Username()) {
			d.metrics.addPending(-1)
		}
		return StatusFailed
	}
	return StatusAwaitingConfirmation
}

func (d *Dispatcher) finish(env protocol.Envelope, status DeliveryStatus) DeliveryStatus {
	d.metrics.recordDelivery(status)

	entry := log.WithFields(log.Fields{
		"id":        env.ID().String(),
		"kind":      env.Kind().String(),
		"sender":    env.Sender(),
		"recipient": env.Recipient(),
		"status":    status.String(),
	})
	if status == StatusFailed {
		entry.Warn("Routing failed")
	} else {
		entry.Debug("Routed envelope")
	}
	return status
}

func (d *Dispatcher) logBroadcast(env protocol.Envelope, result BroadcastResult) {
	log.WithFields(log.Fields{
		"id":        env.ID().String(),
		"kind":      env.Kind().String(),
		"sender":    env.Sender(),
		"targets":   len(result.Statuses),
		"delivered": result.Count(StatusDelivered),
		"awaiting":  result.Count(StatusAwaitingConfirmation),
		"failed":    result.Count(StatusFailed),
	}).Info("Broadcast fanned out")
}
