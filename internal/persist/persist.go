// Package persist implements A3: periodic snapshot-swap of A2's delta
// counters into a single pgx transaction that upserts every entity class
// in fixed order (the classes are not committed separately), with additive
// upsert semantics and commit-gated consumer-group acknowledgement
// (§4.6). Grounded on other_examples/…joaofoltran-pg-migrator…
// pipeline.go's pgx/v5 + pgxpool connection management and its
// commit-then-advance-offset discipline, adapted from a one-shot
// migration to a recurring cycle.
package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/netsentinel/netsentinel/internal/errs"
	"github.com/netsentinel/netsentinel/internal/frame"
	"github.com/netsentinel/netsentinel/internal/metrics"
	"github.com/netsentinel/netsentinel/internal/model"
)

// Acker advances the upstream consumer's offset once a cycle's data is
// durably committed (A1's CommitAck).
type Acker interface {
	CommitAck(ctx context.Context) error
}

// Config controls A3's cadence (§4.6 defaults).
type Config struct {
	Interval          time.Duration
	MaxBucketLookback time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.MaxBucketLookback <= 0 {
		c.MaxBucketLookback = 10 * time.Minute
	}
	return c
}

// Persister is A3.
type Persister struct {
	cfg     Config
	pool    *pgxpool.Pool
	model   *model.Model
	acker   Acker
	logger  *zap.Logger
	metrics *metrics.Aggregator

	mu            sync.Mutex
	deviceIDCache map[frame.MAC]int64

	evictedMu sync.Mutex
	evicted   []model.EvictedFlowDelta
}

// Connect opens the database pool. Callers must Close the returned pool.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errs.Wrap(err, "connecting to database")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errs.Wrap(err, "pinging database")
	}
	return pool, nil
}

// New constructs a Persister.
func New(cfg Config, pool *pgxpool.Pool, m *model.Model, acker Acker, logger *zap.Logger, mt *metrics.Aggregator) *Persister {
	return &Persister{
		cfg:           cfg.withDefaults(),
		pool:          pool,
		model:         m,
		acker:         acker,
		logger:        logger,
		metrics:       mt,
		deviceIDCache: make(map[frame.MAC]int64),
	}
}

// FlowEvicted implements model.EvictionSink: a flow leaving A2 via flow_cap
// LRU is queued for its final flush rather than dropped (§4.5).
func (p *Persister) FlowEvicted(f *model.Flow) {
	p.evictedMu.Lock()
	p.evicted = append(p.evicted, model.EvictedFlowDelta{
		Key:            f.Key,
		FirstSeenMicro: f.FirstSeenMicro,
		LastSeenMicro:  f.LastSeenMicro(),
		Packets:        f.Packets.Drain(),
		Bytes:          f.Bytes.Drain(),
		TCPFlagsSeen:   f.TCPFlagsSeen(),
	})
	p.evictedMu.Unlock()
}

func (p *Persister) drainEvicted() []model.EvictedFlowDelta {
	p.evictedMu.Lock()
	defer p.evictedMu.Unlock()
	out := p.evicted
	p.evicted = nil
	return out
}

// Run drives the persistence cycle on cfg.Interval until ctx is canceled.
func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.runCycle(context.Background())
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// runCycle executes one full snapshot-swap-and-commit cycle (§4.6).
func (p *Persister) runCycle(ctx context.Context) {
	start := time.Now()
	defer func() { p.metrics.PersistCycleSecs.Observe(time.Since(start).Seconds()) }()

	snap := snapshot{
		devices:    p.model.DrainDevices(),
		deviceIPs:  p.model.DrainDeviceIPs(),
		vlans:      p.model.DrainVLANs(),
		flows:      p.model.DrainFlows(),
		evicted:    p.drainEvicted(),
		protocols:  p.model.DrainProtocols(),
		buckets:    p.model.DrainBuckets(),
	}

	if err := p.commit(ctx, snap); err != nil {
		p.metrics.PersistCycleErrors.Inc()
		p.logger.Error("persistence cycle failed, restoring deltas", zap.Error(err))
		p.restore(snap)
		return
	}

	if err := p.acker.CommitAck(ctx); err != nil {
		// Counters are already durable; a failed ack only risks redelivery
		// (harmless given idempotent additive upserts, §4.6's idempotency
		// rule), never double-counting, so this is logged, not retried here.
		p.logger.Error("failed to acknowledge consumed stream entries after commit", zap.Error(err))
	}

	p.forgetClosedBuckets(snap.buckets)
}

type snapshot struct {
	devices   []model.DeviceDelta
	deviceIPs []model.DeviceIPDelta
	vlans     []model.VLANDelta
	flows     []model.FlowDelta
	evicted   []model.EvictedFlowDelta
	protocols []model.ProtocolDelta
	buckets   []model.BucketDelta
}

// commit runs the fixed-order transaction: Devices → Device-IPs → VLANs →
// Flows → Traffic-Metrics → Protocols (§4.6 step 2).
func (p *Persister) commit(ctx context.Context, snap snapshot) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	if err := p.upsertDevices(ctx, tx, snap.devices); err != nil {
		return err
	}
	if err := p.upsertDeviceIPs(ctx, tx, snap.deviceIPs); err != nil {
		return err
	}
	if err := p.upsertVLANs(ctx, tx, snap.vlans); err != nil {
		return err
	}
	if err := p.upsertFlows(ctx, tx, snap.flows); err != nil {
		return err
	}
	if err := p.upsertEvictedFlows(ctx, tx, snap.evicted); err != nil {
		return err
	}
	if err := p.upsertBuckets(ctx, tx, snap.buckets); err != nil {
		return err
	}
	if err := p.upsertProtocols(ctx, tx, snap.protocols); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.Wrap(err, "committing transaction")
	}
	return nil
}

const upsertDeviceSQL = `
INSERT INTO devices (mac, oui_vendor, oui_prefix_hex, first_seen, last_seen,
    packets_sent, packets_received, bytes_sent, bytes_received,
    device_type, name, notes, is_gateway, is_flagged)
VALUES ($1, $2, $3, to_timestamp($4::double precision / 1e6), to_timestamp($5::double precision / 1e6),
    $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (mac) DO UPDATE SET
    oui_vendor = EXCLUDED.oui_vendor,
    oui_prefix_hex = EXCLUDED.oui_prefix_hex,
    first_seen = LEAST(devices.first_seen, EXCLUDED.first_seen),
    last_seen = GREATEST(devices.last_seen, EXCLUDED.last_seen),
    packets_sent = devices.packets_sent + EXCLUDED.packets_sent,
    packets_received = devices.packets_received + EXCLUDED.packets_received,
    bytes_sent = devices.bytes_sent + EXCLUDED.bytes_sent,
    bytes_received = devices.bytes_received + EXCLUDED.bytes_received,
    device_type = EXCLUDED.device_type,
    name = EXCLUDED.name,
    notes = EXCLUDED.notes,
    is_flagged = EXCLUDED.is_flagged
RETURNING id`

func (p *Persister) upsertDevices(ctx context.Context, tx pgx.Tx, deltas []model.DeviceDelta) error {
	for _, d := range deltas {
		var id int64
		err := p.execRow(ctx, tx, "devices", func() error {
			return tx.QueryRow(ctx, upsertDeviceSQL,
				d.MAC.String(), d.OUIVendor, d.OUIPrefixHex, d.FirstSeenMicro, d.LastSeenMicro,
				d.PacketsSentDelta, d.PacketsReceivedDelta, d.BytesSentDelta, d.BytesReceivedDelta,
				string(d.Kind), d.Name, d.Notes, d.IsGateway, d.IsFlagged,
			).Scan(&id)
		})
		if err != nil {
			return err
		}
		if id == 0 {
			// Row was quarantined by execRow (constraint violation): no id
			// was ever scanned, so there is nothing to cache.
			continue
		}
		p.mu.Lock()
		p.deviceIDCache[d.MAC] = id
		p.mu.Unlock()
	}
	return nil
}

const upsertDeviceIPSQL = `
INSERT INTO device_ips (device_id, ip, vlan_id, first_seen, last_seen, packets, bytes)
VALUES ($1, $2, $3, to_timestamp($4::double precision / 1e6), to_timestamp($5::double precision / 1e6), $6, $7)
ON CONFLICT (device_id, ip, vlan_id) DO UPDATE SET
    first_seen = LEAST(device_ips.first_seen, EXCLUDED.first_seen),
    last_seen = GREATEST(device_ips.last_seen, EXCLUDED.last_seen),
    packets = device_ips.packets + EXCLUDED.packets,
    bytes = device_ips.bytes + EXCLUDED.bytes`

func (p *Persister) upsertDeviceIPs(ctx context.Context, tx pgx.Tx, deltas []model.DeviceIPDelta) error {
	for _, d := range deltas {
		deviceID, ok := p.resolveDeviceID(d.Key.MAC)
		if !ok {
			p.metrics.ConstraintSkips.WithLabelValues("device_ips").Inc()
			continue
		}
		// VLAN is written as the raw sentinel value, never SQL NULL: ON
		// CONFLICT never matches a NULL column, so an untagged device's IP
		// row would re-INSERT as a duplicate every cycle instead of
		// additively upserting (device_ips.vlan_id is NOT NULL DEFAULT -1).
		vlanID := int32(d.Key.VLAN)
		ip := ipString(d.Key.IP)
		err := p.execRow(ctx, tx, "device_ips", func() error {
			_, err := tx.Exec(ctx, upsertDeviceIPSQL, deviceID, ip, vlanID, d.FirstSeenMicro, d.LastSeenMicro, d.PacketsDelta, d.BytesDelta)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

const upsertVLANSQL = `
INSERT INTO vlans (vlan_id, outer_vlan_id, packets, bytes)
VALUES ($1, $2, $3, $4)
ON CONFLICT (vlan_id, outer_vlan_id) DO UPDATE SET
    packets = vlans.packets + EXCLUDED.packets,
    bytes = vlans.bytes + EXCLUDED.bytes`

func (p *Persister) upsertVLANs(ctx context.Context, tx pgx.Tx, deltas []model.VLANDelta) error {
	for _, v := range deltas {
		// Same sentinel-not-NULL discipline as upsertDeviceIPs above.
		outer := int32(v.Key.OuterVLANID)
		err := p.execRow(ctx, tx, "vlans", func() error {
			_, err := tx.Exec(ctx, upsertVLANSQL, int32(v.Key.VLANID), outer, v.PacketsDelta, v.BytesDelta)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

const upsertFlowSQL = `
INSERT INTO flows (src_mac, src_ip, src_port, dst_mac, dst_ip, dst_port, vlan_id, ip_protocol,
    src_device_id, dst_device_id, first_seen, last_seen, packet_count, byte_count, tcp_flags_seen)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
    to_timestamp($11::double precision / 1e6), to_timestamp($12::double precision / 1e6), $13, $14, $15)
ON CONFLICT (src_mac, src_ip, src_port, dst_mac, dst_ip, dst_port, vlan_id, ip_protocol) DO UPDATE SET
    first_seen = LEAST(flows.first_seen, EXCLUDED.first_seen),
    last_seen = GREATEST(flows.last_seen, EXCLUDED.last_seen),
    packet_count = flows.packet_count + EXCLUDED.packet_count,
    byte_count = flows.byte_count + EXCLUDED.byte_count,
    tcp_flags_seen = flows.tcp_flags_seen | EXCLUDED.tcp_flags_seen,
    src_device_id = COALESCE(EXCLUDED.src_device_id, flows.src_device_id),
    dst_device_id = COALESCE(EXCLUDED.dst_device_id, flows.dst_device_id)`

func (p *Persister) upsertFlows(ctx context.Context, tx pgx.Tx, deltas []model.FlowDelta) error {
	for _, f := range deltas {
		if err := p.upsertOneFlow(ctx, tx, f.Key, f.FirstSeenMicro, f.LastSeenMicro, f.PacketsDelta, f.BytesDelta, f.TCPFlagsSeen); err != nil {
			return err
		}
	}
	return nil
}

func (p *Persister) upsertEvictedFlows(ctx context.Context, tx pgx.Tx, deltas []model.EvictedFlowDelta) error {
	for _, f := range deltas {
		if err := p.upsertOneFlow(ctx, tx, f.Key, f.FirstSeenMicro, f.LastSeenMicro, f.Packets, f.Bytes, f.TCPFlagsSeen); err != nil {
			return err
		}
	}
	return nil
}

func (p *Persister) upsertOneFlow(ctx context.Context, tx pgx.Tx, key model.FlowKey, firstSeen, lastSeen, packets, bytes int64, tcpFlags uint8) error {
	srcDeviceID := p.resolveDeviceIDOrNull(key.SrcMAC)
	dstDeviceID := p.resolveDeviceIDOrNull(key.DstMAC)

	// src_ip/dst_ip/src_port/dst_port/ip_protocol/vlan_id are written as
	// their raw zero-sentinel values, never SQL NULL, for the same
	// ON-CONFLICT-never-matches-NULL reason as upsertDeviceIPs/upsertVLANs:
	// flows columns are NOT NULL DEFAULT 0 / '0.0.0.0'.
	srcIP := ipv4FromUint32(key.SrcIP)
	dstIP := ipv4FromUint32(key.DstIP)
	ipProto := int16(key.IPProtocol)
	srcPort := int32(key.SrcPort)
	dstPort := int32(key.DstPort)
	vlanID := int32(key.VLANID)

	return p.execRow(ctx, tx, "flows", func() error {
		_, err := tx.Exec(ctx, upsertFlowSQL,
			key.SrcMAC.String(), srcIP, srcPort, key.DstMAC.String(), dstIP, dstPort, vlanID, ipProto,
			srcDeviceID, dstDeviceID, firstSeen, lastSeen, packets, bytes, int16(tcpFlags),
		)
		return err
	})
}

const upsertBucketSQL = `
INSERT INTO traffic_metrics (bucket_start, entity_hash, metric_type, packet_count, byte_count,
    min_packet_size, max_packet_size, avg_packet_size, syn_count, rst_count, fin_count)
VALUES (to_timestamp($1::double precision), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (bucket_start, entity_hash, metric_type) DO UPDATE SET
    packet_count = traffic_metrics.packet_count + EXCLUDED.packet_count,
    byte_count = traffic_metrics.byte_count + EXCLUDED.byte_count,
    min_packet_size = LEAST(traffic_metrics.min_packet_size, EXCLUDED.min_packet_size),
    max_packet_size = GREATEST(traffic_metrics.max_packet_size, EXCLUDED.max_packet_size),
    avg_packet_size = EXCLUDED.avg_packet_size,
    syn_count = EXCLUDED.syn_count,
    rst_count = EXCLUDED.rst_count,
    fin_count = EXCLUDED.fin_count`

func (p *Persister) upsertBuckets(ctx context.Context, tx pgx.Tx, deltas []model.BucketDelta) error {
	cutoff := time.Now().Add(-p.cfg.MaxBucketLookback).Unix()
	for _, b := range deltas {
		if b.Key.BucketStartUnixSec < cutoff {
			p.metrics.BucketLateArrivals.Inc()
			continue
		}
		err := p.execRow(ctx, tx, "traffic_metrics", func() error {
			_, err := tx.Exec(ctx, upsertBucketSQL,
				b.Key.BucketStartUnixSec, int64(b.Key.EntityHash), string(b.Key.MetricType),
				b.PacketsDelta, b.BytesDelta,
				nullIfZero(b.MinPacketSize), nullIfZero(b.MaxPacketSize), b.AvgPacketSize,
				b.SYNCount, b.RSTCount, b.FINCount,
			)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

const upsertProtocolSQL = `
INSERT INTO protocols (ethertype, ip_protocol, packets, bytes)
VALUES ($1, $2, $3, $4)
ON CONFLICT (ethertype, ip_protocol) DO UPDATE SET
    packets = protocols.packets + EXCLUDED.packets,
    bytes = protocols.bytes + EXCLUDED.bytes`

func (p *Persister) upsertProtocols(ctx context.Context, tx pgx.Tx, deltas []model.ProtocolDelta) error {
	for _, pr := range deltas {
		// -1 stands for "no IP protocol" (protocols.ip_protocol is NOT NULL
		// DEFAULT -1): 0 is itself a valid IP protocol number (HOPOPT), so
		// unlike the flow/device_ips/vlans key columns it cannot double as
		// its own sentinel. Same NULL-never-matches-ON-CONFLICT reasoning.
		ipProto := int16(-1)
		if pr.Key.HasIPProto {
			ipProto = int16(pr.Key.IPProtocol)
		}
		err := p.execRow(ctx, tx, "protocols", func() error {
			_, err := tx.Exec(ctx, upsertProtocolSQL, int32(pr.Key.EtherType), ipProto, pr.PacketsDelta, pr.BytesDelta)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// forgetClosedBuckets drops committed buckets whose window has fully
// closed, bounding A2's bucket map to roughly max_bucket_lookback worth of
// live windows.
func (p *Persister) forgetClosedBuckets(deltas []model.BucketDelta) {
	cutoff := time.Now().Add(-2 * p.cfg.MaxBucketLookback).Unix()
	for _, b := range deltas {
		if b.Key.BucketStartUnixSec < cutoff {
			p.model.ForgetBucket(b.Key)
		}
	}
}

// restore re-adds every drained delta back into A2 after a failed commit
// (§4.6 step 5).
func (p *Persister) restore(snap snapshot) {
	for _, d := range snap.devices {
		p.model.RestoreDevice(d)
	}
	for _, d := range snap.deviceIPs {
		p.model.RestoreDeviceIP(d)
	}
	for _, v := range snap.vlans {
		p.model.RestoreVLAN(v)
	}
	for _, f := range snap.flows {
		p.model.RestoreFlow(f)
	}
	for _, pr := range snap.protocols {
		p.model.RestoreProtocol(pr)
	}
	for _, b := range snap.buckets {
		p.model.RestoreBucket(b)
	}
	// Evicted flows already left A2; a failed commit is retried verbatim
	// next cycle from p.evicted, which runCycle never repopulates here —
	// re-queue them so the flush is not silently lost.
	p.evictedMu.Lock()
	p.evicted = append(p.evicted, snap.evicted...)
	p.evictedMu.Unlock()
}

func (p *Persister) resolveDeviceID(mac frame.MAC) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.deviceIDCache[mac]
	return id, ok
}

func (p *Persister) resolveDeviceIDOrNull(mac frame.MAC) any {
	if mac.IsZero() || mac.IsMulticast() {
		return nil
	}
	if id, ok := p.resolveDeviceID(mac); ok {
		return id
	}
	return nil
}

func ipString(ip [4]byte) string {
	return ipv4FromUint32(ipToUint32(ip))
}

func ipToUint32(ip [4]byte) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func ipv4FromUint32(v uint32) string {
	b := [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	return itoa(b[0]) + "." + itoa(b[1]) + "." + itoa(b[2]) + "." + itoa(b[3])
}

func itoa(b byte) string {
	if b == 0 {
		return "0"
	}
	var buf [3]byte
	i := 3
	n := b
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func nullIfZero(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

const savepointName = "upsert_row"

// execRow runs fn as one row write inside its own SAVEPOINT, so a
// constraint violation on this row rolls back only this row instead of
// aborting the whole transaction. Postgres marks a transaction unusable
// (25P02) after any statement error; without a savepoint boundary that
// would fail every later row, every later entity class, and the final
// Commit, turning a single bad row into a lost cycle (§4.6, §7's
// "skipped once, re-attempted next cycle" promise covers one row, not
// the rest of the batch).
func (p *Persister) execRow(ctx context.Context, tx pgx.Tx, entity string, fn func() error) error {
	if _, err := tx.Exec(ctx, "SAVEPOINT "+savepointName); err != nil {
		return errs.Wrap(err, "creating savepoint")
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepointName); rbErr != nil {
			return errs.Wrap(rbErr, "rolling back savepoint after "+entity+" error")
		}
		if isConstraintViolation(err) {
			p.metrics.ConstraintSkips.WithLabelValues(entity).Inc()
			return nil
		}
		return errs.Wrapf(err, "upserting %s", entity)
	}
	if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT "+savepointName); err != nil {
		return errs.Wrap(err, "releasing savepoint")
	}
	return nil
}

func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "23505", "23503", "23514": // unique_violation, fk_violation, check_violation
		return true
	}
	return false
}
