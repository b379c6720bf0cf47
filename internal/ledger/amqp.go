package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpChannel is the subset of *amqp.Channel used by AMQPClient.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPConfig configures the RabbitMQ transport.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string

	// DialRetries is the number of connection attempts before giving up.
	DialRetries int
}

// amqpReply is the body the ledger service publishes to the reply queue.
type amqpReply struct {
	TxID      string `json:"txid"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// AMQPClient submits payloads as RPC requests over RabbitMQ. Each request
// carries a correlation id and names an exclusive reply queue owned by
// this client.
type AMQPClient struct {
	conn       io.Closer
	ch         amqpChannel
	exchange   string
	routingKey string
	replyQueue string

	mu      sync.Mutex
	pending map[string]chan amqpReply
	closed  bool
	done    chan struct{}
}

// DialAMQP connects to the broker with exponential backoff and starts the
// reply consumer.
func DialAMQP(cfg AMQPConfig) (*AMQPClient, error) {
	retries := cfg.DialRetries
	if retries < 1 {
		retries = 1
	}

	var conn *amqp.Connection
	var err error
	wait := time.Second
	for i := 0; i < retries; i++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		if i < retries-1 {
			time.Sleep(wait)
			wait = time.Duration(math.Pow(2, float64(i+1))) * time.Second
		}
	}
	if err != nil {
		return nil, submissionErr("dial broker: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, submissionErr("open channel: %v", err)
	}

	c, err := newAMQPClient(conn, ch, cfg.Exchange, cfg.RoutingKey)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return c, nil
}

func newAMQPClient(conn io.Closer, ch amqpChannel, exchange, routingKey string) (*AMQPClient, error) {
	if exchange != "" {
		if err := ch.ExchangeDeclare(
			exchange, // name
			"direct", // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		); err != nil {
			return nil, submissionErr("declare exchange: %v", err)
		}
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, submissionErr("declare reply queue: %v", err)
	}

	deliveries, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		true,   // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return nil, submissionErr("consume replies: %v", err)
	}

	c := &AMQPClient{
		conn:       conn,
		ch:         ch,
		exchange:   exchange,
		routingKey: routingKey,
		replyQueue: q.Name,
		pending:    make(map[string]chan amqpReply),
		done:       make(chan struct{}),
	}
	go c.dispatch(deliveries)
	return c, nil
}

// dispatch routes replies to waiting Submit calls by correlation id.
func (c *AMQPClient) dispatch(deliveries <-chan amqp.Delivery) {
	defer close(c.done)
	for d := range deliveries {
		var reply amqpReply
		if err := json.Unmarshal(d.Body, &reply); err != nil {
			reply = amqpReply{Error: "malformed reply: " + err.Error(), Retryable: true}
		}

		c.mu.Lock()
		waiter, ok := c.pending[d.CorrelationId]
		if ok {
			delete(c.pending, d.CorrelationId)
		}
		c.mu.Unlock()

		if ok {
			waiter <- reply
		}
	}
}

// Submit publishes the payload and waits for the correlated reply or ctx.
func (c *AMQPClient) Submit(ctx context.Context, p *Payload) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("ledger: encode payload: %w", err)
	}

	corrID := p.RequestID
	if corrID == "" {
		corrID = NewRequestID()
	}
	waiter := make(chan amqpReply, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	c.pending[corrID] = waiter
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, corrID)
		c.mu.Unlock()
	}()

	err = c.ch.PublishWithContext(ctx,
		c.exchange,
		c.routingKey,
		false, false,
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: corrID,
			ReplyTo:       c.replyQueue,
			MessageId:     corrID,
			Body:          body,
			Timestamp:     time.Now(),
			DeliveryMode:  amqp.Persistent,
		},
	)
	if err != nil {
		if cerr := ctxErr(ctx, "publish"); cerr != nil {
			return "", cerr
		}
		return "", submissionErr("publish: %v", err)
	}

	select {
	case reply := <-waiter:
		if reply.Error != "" {
			if reply.Retryable {
				return "", submissionErr("%s", reply.Error)
			}
			return "", rejectionErr("%s", reply.Error)
		}
		if reply.TxID == "" {
			return "", submissionErr("ledger returned an empty txid")
		}
		return reply.TxID, nil
	case <-c.done:
		return "", submissionErr("reply consumer stopped")
	case <-ctx.Done():
		return "", ctxErr(ctx, "await reply")
	}
}

// Close stops the consumer and closes the channel and connection.
func (c *AMQPClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.ch.Close()
	if c.conn != nil {
		if cerr := c.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
