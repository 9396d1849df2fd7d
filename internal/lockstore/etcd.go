package lockstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/auto-dns/cf-app-keepalive/internal/config"
)

type etcdClient interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	Txn(ctx context.Context) clientv3.Txn
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
	Close() error
}

// EtcdStore maps TTLs onto etcd leases. Keys live under cfg.Prefix.
type EtcdStore struct {
	client etcdClient
	cfg    *config.EtcdConfig
	logger zerolog.Logger
}

func NewEtcdStore(client etcdClient, cfg *config.EtcdConfig, logger zerolog.Logger) *EtcdStore {
	return &EtcdStore{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "etcd_store").Logger(),
	}
}

func (es *EtcdStore) key(k string) string {
	return joinKey(es.cfg.Prefix, k)
}

func (es *EtcdStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if es.cfg.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, es.cfg.RequestTimeout)
}

// leaseOpts grants a lease for ttl and returns the put options that attach it.
func (es *EtcdStore) leaseOpts(ctx context.Context, ttl time.Duration) ([]clientv3.OpOption, clientv3.LeaseID, error) {
	if ttl <= 0 {
		return nil, clientv3.NoLease, nil
	}
	resp, err := es.client.Grant(ctx, ttlSeconds(ttl))
	if err != nil {
		return nil, clientv3.NoLease, fmt.Errorf("failed to create lease: %w", err)
	}
	return []clientv3.OpOption{clientv3.WithLease(resp.ID)}, resp.ID, nil
}

func (es *EtcdStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := es.withTimeout(ctx)
	defer cancel()
	resp, err := es.client.Get(ctx, es.key(key))
	if err != nil {
		return nil, false, err
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

func (es *EtcdStore) Get(ctx context.Context, key string) (string, bool, error) {
	raw, ok, err := es.get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(raw), true, nil
}

func (es *EtcdStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := es.withTimeout(ctx)
	defer cancel()
	opts, _, err := es.leaseOpts(ctx, ttl)
	if err != nil {
		return err
	}
	_, err = es.client.Put(ctx, es.key(key), value, opts...)
	return err
}

// PutIfAbsent writes the key in a transaction guarded by CreateRevision == 0.
func (es *EtcdStore) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := es.withTimeout(ctx)
	defer cancel()
	opts, lease, err := es.leaseOpts(ctx, ttl)
	if err != nil {
		return false, err
	}
	k := es.key(key)
	txnResp, err := es.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(k), "=", 0)).
		Then(clientv3.OpPut(k, value, opts...)).
		Commit()
	if err != nil {
		return false, err
	}
	if !txnResp.Succeeded && lease != clientv3.NoLease {
		if _, errRevoke := es.client.Revoke(ctx, lease); errRevoke != nil {
			es.logger.Warn().Err(errRevoke).Msgf("failed to revoke unused lease for %s", k)
		}
	}
	return txnResp.Succeeded, nil
}

// Delete removes the key and revokes the lease it was written with, so released
// claims do not leave leases behind until their TTL runs out.
func (es *EtcdStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := es.withTimeout(ctx)
	defer cancel()
	k := es.key(key)
	resp, err := es.client.Delete(ctx, k, clientv3.WithPrevKV())
	if err != nil {
		return err
	}
	for _, kv := range resp.PrevKvs {
		if kv.Lease == 0 {
			continue
		}
		if _, errRevoke := es.client.Revoke(ctx, clientv3.LeaseID(kv.Lease)); errRevoke != nil {
			es.logger.Warn().Err(errRevoke).Msgf("failed to revoke lease of deleted key %s", k)
		}
	}
	return nil
}

func (es *EtcdStore) GetList(ctx context.Context, key string) ([]string, bool, error) {
	raw, ok, err := es.get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	values, err := unmarshalList(raw)
	if err != nil {
		return nil, false, fmt.Errorf("key %s: %w", es.key(key), err)
	}
	return values, true, nil
}

func (es *EtcdStore) PutList(ctx context.Context, key string, values []string, ttl time.Duration) error {
	raw, err := marshalList(values)
	if err != nil {
		return err
	}
	return es.Put(ctx, key, raw, ttl)
}

func (es *EtcdStore) Close() error {
	return es.client.Close()
}
