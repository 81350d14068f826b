/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package node

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/pkg/errors"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/tribler/dispersy/common/flogging"
	floggingmetrics "github.com/tribler/dispersy/common/flogging/metrics"
	"github.com/tribler/dispersy/common/metrics/prometheus"
	"github.com/tribler/dispersy/dispersy/comm"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/dispersy"
	"github.com/tribler/dispersy/dispersy/member"
	"github.com/tribler/dispersy/dispersy/message"
	"github.com/tribler/dispersy/dispersy/payload"
	"github.com/tribler/dispersy/dispersy/scheduler"
	"github.com/tribler/dispersy/dispersy/store"
	"github.com/tribler/dispersy/dispersy/util"
	"golang.org/x/sync/errgroup"
)

var logger = flogging.MustGetLogger("dispersyd.node")

const defaultShutdownTimeout = 5 * time.Second

// Options select the communities a node runs and its operations
// listener.
type Options struct {
	Create            bool          // Create a new community on start
	Join              []string      // Hex encoded master public keys of communities to join
	Announce          string        // Text published to every community on start
	OperationsAddress string        // Address of the /metrics listener, empty disables it
	ShutdownTimeout   time.Duration // Time the operations listener gets to drain
}

// Node ties a Dispersy instance to a UDP endpoint, a sqlite store and an
// event loop.
type Node struct {
	Dispersy *dispersy.Dispersy
	My       *member.Member

	opts     Options
	db       *store.DB
	endpoint *comm.UDPEndpoint
	sched    *scheduler.Scheduler
	registry *prom.Registry
	received chan *message.Message
	ready    chan struct{}
}

// New opens the store, binds the endpoint and creates the Dispersy
// instance. Nothing runs until Run is called.
func New(conf dispersy.Config, key *ecdsa.PrivateKey, opts Options) (*Node, error) {
	n := &Node{
		opts:     opts,
		registry: prom.NewRegistry(),
		ready:    make(chan struct{}),
	}
	provider := &prometheus.Provider{Registerer: n.registry}
	flogging.Global.SetObserver(floggingmetrics.NewObserver(provider))

	db, err := store.Open(conf.DatabasePath, conf.BootstrapAddresses)
	if err != nil {
		return nil, errors.WithMessage(err, "failed opening message store")
	}
	n.db = db
	n.sched = scheduler.New(util.GetLogger(util.SchedulerLogger, conf.Address))

	// the handler runs on the endpoint's goroutines; d is assigned before
	// the event loop runs any posted batch
	var d *dispersy.Dispersy
	handler := func(batch []common.PacketIn) {
		n.sched.Post(func() { d.OnIncomingPackets(batch) })
	}
	endpointConf := comm.Config{
		ListenAddress: conf.Address,
		BurstSize:     conf.ReceiveBurstSize,
		BurstLatency:  conf.ReceiveBurstLatency,
	}
	n.endpoint, err = comm.NewUDPEndpoint(endpointConf, handler, comm.NewMetrics(provider))
	if err != nil {
		db.Close()
		return nil, err
	}

	d, err = dispersy.New(conf, db, n.endpoint, n.sched, provider)
	if err != nil {
		n.endpoint.Close()
		db.Close()
		return nil, err
	}
	n.Dispersy = d

	overlay := func() dispersy.Overlay { return &textOverlay{received: n.deliver} }
	if err := d.RegisterClassification(TextClassification, overlay); err != nil {
		n.Close()
		return nil, err
	}
	if n.My, err = d.Members().GetOrCreatePrivate(key); err != nil {
		n.Close()
		return nil, errors.WithMessage(err, "failed loading member key")
	}
	return n, nil
}

func (n *Node) deliver(msg *message.Message) {
	if n.received == nil {
		return
	}
	select {
	case n.received <- msg:
	default:
	}
}

// Address returns the address the endpoint is bound to.
func (n *Node) Address() common.Address {
	return n.endpoint.Address()
}

// Ready is closed once the setup posted by Run has finished on the event
// loop, whether or not it succeeded.
func (n *Node) Ready() <-chan struct{} {
	return n.ready
}

// Registry returns the registry the node's metrics are registered with.
func (n *Node) Registry() *prom.Registry {
	return n.registry
}

// setup attaches the stored communities, joins and creates the configured
// ones and publishes the announcement. It must run on the event loop.
func (n *Node) setup() error {
	n.Dispersy.Start()

	cids, err := n.db.Blobs(`SELECT cid FROM community WHERE classification = ?`, TextClassification)
	if err != nil {
		return errors.WithMessage(err, "failed listing stored communities")
	}
	for _, raw := range cids {
		cid, err := common.CIDFromBytes(raw)
		if err != nil {
			return err
		}
		if _, err := n.Dispersy.AttachCommunity(cid); err != nil {
			return errors.WithMessage(err, "failed attaching stored community")
		}
	}

	for _, key := range n.opts.Join {
		master, err := hex.DecodeString(key)
		if err != nil {
			return errors.Wrapf(err, "invalid master key %q", key)
		}
		c, err := n.Dispersy.LoadCommunity(TextClassification, master, n.My)
		if err != nil {
			return errors.WithMessage(err, "failed joining community")
		}
		logger.Infof("joined %s", c)
	}

	if n.opts.Create {
		c, err := n.Dispersy.CreateCommunity(TextClassification, n.My)
		if err != nil {
			return err
		}
		logger.Infof("created community %s with master key %s", c.CID(), hex.EncodeToString(c.MasterMember().PublicKey()))
	}

	if n.opts.Announce == "" {
		return nil
	}
	for _, c := range n.Dispersy.Communities() {
		if c.IsHardKilled() {
			continue
		}
		meta, err := c.Meta(textMessage)
		if err != nil {
			return err
		}
		if _, err := c.CreateMessage(meta, &payload.Text{Text: n.opts.Announce}); err != nil {
			logger.Warningf("failed announcing in %s: %s", c, err)
		}
	}
	return nil
}

// Run sets the node up and runs the event loop and the operations
// listener until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	setup := make(chan error, 1)
	n.sched.Post(func() {
		defer close(n.ready)
		setup <- n.setup()
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := n.sched.Run(gctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(func() error {
		select {
		case err := <-setup:
			return err
		case <-gctx.Done():
			return nil
		}
	})
	if n.opts.OperationsAddress != "" {
		server := &http.Server{Addr: n.opts.OperationsAddress, Handler: n.operationsHandler()}
		g.Go(func() error {
			logger.Infof("serving metrics on %s", n.opts.OperationsAddress)
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				return errors.Wrap(err, "operations listener failed")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			timeout := n.opts.ShutdownTimeout
			if timeout <= 0 {
				timeout = defaultShutdownTimeout
			}
			shutdown, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			return server.Shutdown(shutdown)
		})
	}

	err := g.Wait()
	n.Dispersy.Stop()
	return err
}

// Close releases the endpoint and the store. Run must have returned.
func (n *Node) Close() error {
	err := n.endpoint.Close()
	if dbErr := n.db.Close(); err == nil {
		err = dbErr
	}
	return err
}
