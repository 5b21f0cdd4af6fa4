// Package membership implements the document/partition claim: a Lambda
// is created when a partition worker claims a document. It adapts a
// hash-ring-of-nodes membership pattern into an
// ephemeral-node-per-claimed-document lock: one scribe worker process
// claims a document by creating its ephemeral znode, and loses the claim
// the moment its ZooKeeper session drops, so another worker can pick it
// back up without a human rebalancing anything.
package membership

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/scribelake/scribe/pkg/dberrors"
	"github.com/scribelake/scribe/pkg/types"
)

// Claim is a partition worker's exclusive lease on one document.
// Released releases closes when the underlying znode disappears, whether
// because Release was called or the ZK session dropped.
type Claim struct {
	docID    types.DocumentID
	released chan struct{}
}

// NewClaim constructs a Claim directly, for fakes in tests of code that
// depends on a claim-granting collaborator without a live ZooKeeper
// ensemble.
func NewClaim(docID types.DocumentID, released chan struct{}) *Claim {
	return &Claim{docID: docID, released: released}
}

// Released reports whether this claim has been lost or released.
func (c *Claim) Released() <-chan struct{} {
	return c.released
}

// DocumentID returns the claimed document.
func (c *Claim) DocumentID() types.DocumentID {
	return c.docID
}

// Registry claims and releases per-document ephemeral nodes under one
// partition's root path.
type Registry struct {
	conn        *zk.Conn
	rootPath    string
	partitionID string
}

// Connect dials the given ZooKeeper ensemble and ensures rootPath exists.
// partitionID identifies this worker process in znode paths.
func Connect(servers []string, rootPath, partitionID string) (*Registry, error) {
	conn, _, err := zk.Connect(servers, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("membership: zk connect: %w", err)
	}
	r := &Registry{conn: conn, rootPath: rootPath, partitionID: partitionID}
	if err := r.waitConnected(10 * time.Second); err != nil {
		conn.Close()
		return nil, err
	}
	if err := r.ensurePath(rootPath + "/documents"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("membership: ensure documents path: %w", err)
	}
	return r, nil
}

// Close drops the ZooKeeper session, releasing every claim this registry
// holds.
func (r *Registry) Close() error {
	r.conn.Close()
	return nil
}

func (r *Registry) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := r.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("membership: zk not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func (r *Registry) ensurePath(path string) error {
	parts := strings.Split(path, "/")
	cur := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := r.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := r.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) documentPath(docID types.DocumentID) string {
	return fmt.Sprintf("%s/documents/%s", r.rootPath, docID)
}

// Claim attempts to claim docID for this partition worker by creating an
// ephemeral znode. Returns dberrors.ErrAlreadyClaimed if another worker
// currently owns it.
func (r *Registry) Claim(ctx context.Context, docID types.DocumentID) (*Claim, error) {
	path := r.documentPath(docID)

	_, err := r.conn.Create(path, []byte(r.partitionID), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err == zk.ErrNodeExists {
		return nil, fmt.Errorf("%w: document %s already claimed", dberrors.ErrAlreadyClaimed, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("membership: create claim znode: %w", err)
	}

	claim := &Claim{docID: docID, released: make(chan struct{})}
	r.watchClaim(ctx, claim, path)
	return claim, nil
}

// watchClaim runs a background watch that closes claim.released the
// moment the znode is deleted: explicit Release, or a dropped session
// expiring the ephemeral node.
func (r *Registry) watchClaim(ctx context.Context, claim *Claim, path string) {
	go func() {
		defer close(claim.released)
		for {
			exists, _, ch, err := r.conn.ExistsW(path)
			if err != nil || !exists {
				return
			}
			select {
			case ev := <-ch:
				if ev.Type == zk.EventNodeDeleted {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Release voluntarily drops a claim, e.g. on a graceful partition
// rebalance (types.CloseRebalance).
func (r *Registry) Release(docID types.DocumentID) error {
	err := r.conn.Delete(r.documentPath(docID), -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("membership: release claim: %w", err)
	}
	return nil
}
