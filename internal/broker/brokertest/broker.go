// Package brokertest provides an in-memory AMQP broker for tests. It
// implements the channel subsets used by the broker package (declare,
// consume, publish) and acts as the acknowledger of the deliveries it hands
// out, including dead-letter routing for rejected messages.
package brokertest

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const deadLetterExchangeArg = "x-dead-letter-exchange"

// NackCall records one negative acknowledgment.
type NackCall struct {
	Tag     uint64
	Requeue bool
}

type exchange struct {
	kind    string
	durable bool
}

type queue struct {
	durable  bool
	args     amqp.Table
	ready    []message
	consumer chan amqp.Delivery
	owner    *Channel
	tag      string
}

type message struct {
	routingKey  string
	publishing  amqp.Publishing
	redelivered bool
}

type binding struct {
	queue string
	key   string
}

type inflight struct {
	queue string
	msg   message
}

// Broker is a single-channel in-memory broker. The zero value is not usable;
// call New.
type Broker struct {
	mu sync.Mutex

	exchanges map[string]exchange
	queues    map[string]*queue
	bindings  map[string][]binding
	unacked   map[uint64]inflight
	nextTag   uint64

	failures map[string]error

	seq      uint64
	channels []*Channel

	prefetch  int
	acks      []uint64
	nacks     []NackCall
	cancelled []string
	closed    bool
}

// New returns an empty broker.
func New() *Broker {
	return &Broker{
		exchanges: make(map[string]exchange),
		queues:    make(map[string]*queue),
		bindings:  make(map[string][]binding),
		unacked:   make(map[uint64]inflight),
		failures:  make(map[string]error),
	}
}

// FailOn makes the next call of op ("ExchangeDeclare", "QueueDeclare",
// "QueueBind", "Qos", "Consume", "Publish", "Ack", "Nack") on the named
// entity return err. For Ack and Nack the name is ignored.
func (b *Broker) FailOn(op, name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op+":"+name] = err
}

func (b *Broker) takeFailure(op, name string) error {
	key := op + ":" + name
	if err, ok := b.failures[key]; ok {
		delete(b.failures, key)
		return err
	}
	return nil
}

// ExchangeDeclare implements broker.Declarer.
func (b *Broker) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure("ExchangeDeclare", name); err != nil {
		return err
	}
	want := exchange{kind: kind, durable: durable}
	if got, ok := b.exchanges[name]; ok && got != want {
		return preconditionFailed("exchange", name)
	}
	b.exchanges[name] = want
	return nil
}

// QueueDeclare implements broker.Declarer.
func (b *Broker) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure("QueueDeclare", name); err != nil {
		return amqp.Queue{}, err
	}
	if q, ok := b.queues[name]; ok {
		if q.durable != durable || !sameArgs(q.args, args) {
			return amqp.Queue{}, preconditionFailed("queue", name)
		}
		return amqp.Queue{Name: name, Messages: len(q.ready)}, nil
	}
	b.queues[name] = &queue{durable: durable, args: copyTable(args)}
	return amqp.Queue{Name: name}, nil
}

// QueueBind implements broker.Declarer.
func (b *Broker) QueueBind(name, key, exchangeName string, noWait bool, args amqp.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure("QueueBind", name); err != nil {
		return err
	}
	if _, ok := b.queues[name]; !ok {
		return notFound("queue", name)
	}
	if _, ok := b.exchanges[exchangeName]; !ok {
		return notFound("exchange", exchangeName)
	}
	for _, existing := range b.bindings[exchangeName] {
		if existing.queue == name && existing.key == key {
			return nil
		}
	}
	b.bindings[exchangeName] = append(b.bindings[exchangeName], binding{queue: name, key: key})
	return nil
}

// Qos implements broker.Subscriber.
func (b *Broker) Qos(prefetchCount, prefetchSize int, global bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure("Qos", ""); err != nil {
		return err
	}
	b.prefetch = prefetchCount
	return nil
}

// Consume implements broker.Subscriber. Ready messages are flushed to the
// returned channel immediately.
func (b *Broker) Consume(queueName, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consume(nil, queueName, consumer, exclusive)
}

func (b *Broker) consume(owner *Channel, queueName, consumer string, exclusive bool) (<-chan amqp.Delivery, error) {
	if err := b.takeFailure("Consume", queueName); err != nil {
		return nil, err
	}
	q, ok := b.queues[queueName]
	if !ok {
		return nil, notFound("queue", queueName)
	}
	if exclusive {
		return nil, fmt.Errorf("brokertest: exclusive consumers are not supported")
	}
	q.consumer = make(chan amqp.Delivery, 1024)
	q.owner = owner
	q.tag = consumer
	b.flush(queueName, q)
	return q.consumer, nil
}

// Cancel implements broker.Subscriber.
func (b *Broker) Cancel(consumer string, noWait bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, consumer)
	for _, q := range b.queues {
		if q.tag == consumer && q.consumer != nil {
			close(q.consumer)
			q.consumer = nil
		}
	}
	return nil
}

// PublishWithContext implements broker.Sender.
func (b *Broker) PublishWithContext(ctx context.Context, exchangeName, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure("Publish", exchangeName); err != nil {
		return err
	}
	if _, ok := b.exchanges[exchangeName]; !ok {
		return notFound("exchange", exchangeName)
	}
	b.route(exchangeName, message{routingKey: key, publishing: msg})
	return nil
}

// Ack implements amqp.Acknowledger.
func (b *Broker) Ack(tag uint64, multiple bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure("Ack", ""); err != nil {
		return err
	}
	if _, ok := b.unacked[tag]; !ok {
		return unknownTag(tag)
	}
	delete(b.unacked, tag)
	b.acks = append(b.acks, tag)
	return nil
}

// Nack implements amqp.Acknowledger. Without requeue the message is routed
// to the queue's dead-letter exchange, or dropped when it has none.
func (b *Broker) Nack(tag uint64, multiple, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure("Nack", ""); err != nil {
		return err
	}
	return b.reject(tag, requeue)
}

// Reject implements amqp.Acknowledger.
func (b *Broker) Reject(tag uint64, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reject(tag, requeue)
}

func (b *Broker) reject(tag uint64, requeue bool) error {
	in, ok := b.unacked[tag]
	if !ok {
		return unknownTag(tag)
	}
	delete(b.unacked, tag)
	b.nacks = append(b.nacks, NackCall{Tag: tag, Requeue: requeue})

	q := b.queues[in.queue]
	if requeue {
		in.msg.redelivered = true
		q.ready = append([]message{in.msg}, q.ready...)
		b.flush(in.queue, q)
		return nil
	}
	if dlx, ok := q.args[deadLetterExchangeArg].(string); ok && dlx != "" {
		dead := in.msg
		dead.redelivered = false
		b.route(dlx, dead)
	}
	return nil
}

// CloseDeliveries ends every active subscription as if the broker had closed
// the channel.
func (b *Broker) CloseDeliveries() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, q := range b.queues {
		if q.consumer != nil {
			close(q.consumer)
			q.consumer = nil
		}
	}
}

// Messages returns the bodies waiting on a queue (not yet delivered).
func (b *Broker) Messages(queueName string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueName]
	if !ok {
		return nil
	}
	out := make([][]byte, 0, len(q.ready))
	for _, m := range q.ready {
		out = append(out, m.publishing.Body)
	}
	return out
}

// Acks returns the acknowledged delivery tags.
func (b *Broker) Acks() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint64(nil), b.acks...)
}

// Nacks returns the negative acknowledgments received.
func (b *Broker) Nacks() []NackCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]NackCall(nil), b.nacks...)
}

// Unacked returns the number of delivered but unsettled messages.
func (b *Broker) Unacked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.unacked)
}

// Prefetch returns the last prefetch count set through Qos.
func (b *Broker) Prefetch() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prefetch
}

// Cancelled returns the consumer tags passed to Cancel.
func (b *Broker) Cancelled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

// HasExchange reports whether the exchange was declared with the given kind
// and durability.
func (b *Broker) HasExchange(name, kind string, durable bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ex, ok := b.exchanges[name]
	return ok && ex.kind == kind && ex.durable == durable
}

// QueueArgs returns the arguments a queue was declared with.
func (b *Broker) QueueArgs(name string) (amqp.Table, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return nil, false
	}
	return copyTable(q.args), true
}

// QueueDurable reports whether a queue exists and is durable.
func (b *Broker) QueueDurable(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	return ok && q.durable
}

// Bindings returns the number of bindings from exchange to queue with key.
func (b *Broker) Bindings(exchangeName, queueName, key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, bd := range b.bindings[exchangeName] {
		if bd.queue == queueName && bd.key == key {
			n++
		}
	}
	return n
}

func (b *Broker) route(exchangeName string, msg message) {
	for _, bd := range b.bindings[exchangeName] {
		if bd.key != msg.routingKey {
			continue
		}
		q := b.queues[bd.queue]
		q.ready = append(q.ready, msg)
		b.flush(bd.queue, q)
	}
}

func (b *Broker) flush(queueName string, q *queue) {
	if q.consumer == nil {
		return
	}
	for len(q.ready) > 0 {
		msg := q.ready[0]
		q.ready = q.ready[1:]
		b.nextTag++
		b.unacked[b.nextTag] = inflight{queue: queueName, msg: msg}
		q.consumer <- amqp.Delivery{
			Acknowledger: b,
			ContentType:  msg.publishing.ContentType,
			DeliveryMode: msg.publishing.DeliveryMode,
			MessageId:    msg.publishing.MessageId,
			Timestamp:    msg.publishing.Timestamp,
			ConsumerTag:  q.tag,
			DeliveryTag:  b.nextTag,
			Redelivered:  msg.redelivered,
			RoutingKey:   msg.routingKey,
			Body:         msg.publishing.Body,
		}
	}
}

func sameArgs(a, b amqp.Table) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func copyTable(t amqp.Table) amqp.Table {
	if t == nil {
		return nil
	}
	out := make(amqp.Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

func preconditionFailed(kind, name string) error {
	return &amqp.Error{
		Code:   amqp.PreconditionFailed,
		Reason: fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg for %s '%s'", kind, name),
		Server: true,
	}
}

func notFound(kind, name string) error {
	return &amqp.Error{
		Code:   amqp.NotFound,
		Reason: fmt.Sprintf("NOT_FOUND - no %s '%s'", kind, name),
		Server: true,
	}
}

func unknownTag(tag uint64) error {
	return &amqp.Error{
		Code:   amqp.PreconditionFailed,
		Reason: fmt.Sprintf("PRECONDITION_FAILED - unknown delivery tag %d", tag),
		Server: true,
	}
}
