// Package syncengine implements the continuous logical-replication sync
// command: it creates (or resumes) a replication slot bound to a
// publication, streams the logical decoding feed, and hands each decoded
// INSERT/UPDATE/DELETE to a caller-supplied Handler, which applies it to
// the target.
package syncengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/pgbridge/pgbridge/internal/errkind"
)

// standbyStatusInterval bounds how long the feed can go without sending a
// standby status update before the server times the connection out.
const standbyStatusInterval = 10 * time.Second

// Change is one row-level change decoded from the logical replication
// stream, ready for application to the target.
type Change struct {
	Operation string // "INSERT", "UPDATE", or "DELETE"
	Schema    string
	Table     string
	Data      map[string]interface{}
	OldData   map[string]interface{}
}

// Handler applies a decoded Change to the target database. Returning an
// error stops the sync loop; callers that want best-effort delivery
// should log and swallow recoverable errors inside their Handler.
type Handler func(ctx context.Context, change Change) error

// Options configures Start.
type Options struct {
	// SlotName is the replication slot to create (if absent) and consume.
	SlotName string
	// PublicationName is the publication the slot streams from.
	PublicationName string
	// StartLSN resumes from a previously recorded position; zero means
	// "use the slot's confirmed position" (a fresh slot starts at
	// creation time). The server never streams from before the slot's
	// confirmed position, whatever StartLSN says.
	StartLSN pglogrepl.LSN
}

// relationCache remembers each RelationMessage's column metadata, keyed by
// the server-assigned relation ID carried on every subsequent row message.
type relationCache struct {
	mu    sync.RWMutex
	byOID map[uint32]*pglogrepl.RelationMessage
}

func newRelationCache() *relationCache {
	return &relationCache{byOID: make(map[uint32]*pglogrepl.RelationMessage)}
}

func (c *relationCache) store(msg *pglogrepl.RelationMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byOID[msg.RelationID] = msg
}

func (c *relationCache) get(id uint32) (*pglogrepl.RelationMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msg, ok := c.byOID[id]
	return msg, ok
}

// EnsureSlot creates opts.SlotName if it does not already exist, using
// pgoutput and the given publication. Pre-existing slots are resumed as-is.
func EnsureSlot(ctx context.Context, conn *pgconn.PgConn, opts Options) error {
	_, err := pglogrepl.CreateReplicationSlot(ctx, conn, opts.SlotName, "pgoutput",
		pglogrepl.CreateReplicationSlotOptions{Temporary: false})
	if err != nil {
		if isSlotAlreadyExists(err) {
			log.Info().Str("slot", opts.SlotName).Msg("replication slot already exists, resuming")
			return nil
		}
		return errkind.New(errkind.ExternalToolFailed, "failed to create replication slot %q: %w", opts.SlotName, err)
	}
	log.Info().Str("slot", opts.SlotName).Msg("created replication slot")
	return nil
}

func isSlotAlreadyExists(err error) bool {
	pgErr, ok := err.(*pgconn.PgError)
	return ok && pgErr.Code == "42710"
}

// Start begins streaming logical decoding messages from a replication
// connection (one established with the "replication=database" runtime
// parameter) and dispatches each row change to handle. It runs until ctx
// is cancelled or a non-recoverable protocol error occurs.
func Start(ctx context.Context, conn *pgconn.PgConn, opts Options, handle Handler) error {
	// A zero LSN lets the server start from the slot's confirmed_flush_lsn,
	// since it streams from whichever of the two positions is later.
	startLSN := opts.StartLSN

	pluginArgs := []string{
		"proto_version '1'",
		fmt.Sprintf("publication_names '%s'", opts.PublicationName),
	}
	if err := pglogrepl.StartReplication(ctx, conn, opts.SlotName, startLSN,
		pglogrepl.StartReplicationOptions{PluginArgs: pluginArgs}); err != nil {
		return errkind.New(errkind.ExternalToolFailed, "failed to start replication on slot %q: %w", opts.SlotName, err)
	}

	relations := newRelationCache()
	lastReceived := startLSN
	lastStandbyUpdate := time.Now()

	for {
		if time.Since(lastStandbyUpdate) > standbyStatusInterval {
			if err := sendStandbyStatus(ctx, conn, lastReceived); err != nil {
				return err
			}
			lastStandbyUpdate = time.Now()
		}

		recvCtx, cancel := context.WithTimeout(ctx, standbyStatusInterval)
		msg, err := conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isTimeout(err) {
				continue
			}
			return errkind.New(errkind.ExternalToolFailed, "replication stream read failed: %w", err)
		}

		copyData, ok := msg.(*pgconn.CopyData)
		if !ok {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			keepalive, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if err != nil {
				return errkind.New(errkind.ExternalToolFailed, "failed to parse keepalive: %w", err)
			}
			if keepalive.ReplyRequested {
				if err := sendStandbyStatus(ctx, conn, lastReceived); err != nil {
					return err
				}
				lastStandbyUpdate = time.Now()
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
			if err != nil {
				return errkind.New(errkind.ExternalToolFailed, "failed to parse XLogData: %w", err)
			}
			if xld.WALStart > lastReceived {
				lastReceived = xld.WALStart
			}

			change, err := decodeMessage(xld.WALData, relations)
			if err != nil {
				log.Warn().Err(err).Msg("failed to decode logical replication message, skipping")
				continue
			}
			if change == nil {
				continue
			}
			if err := handle(ctx, *change); err != nil {
				return fmt.Errorf("handler failed for %s on %s.%s: %w", change.Operation, change.Schema, change.Table, err)
			}
		}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

func sendStandbyStatus(ctx context.Context, conn *pgconn.PgConn, lsn pglogrepl.LSN) error {
	err := pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: lsn,
		WALFlushPosition: lsn,
		WALApplyPosition: lsn,
	})
	if err != nil {
		return errkind.New(errkind.ExternalToolFailed, "failed to send standby status update: %w", err)
	}
	return nil
}

// decodeMessage parses one pgoutput message and, for row-change messages,
// returns the decoded Change. Relation messages update relations as a
// side effect and return (nil, nil); begin/commit messages are ignored.
func decodeMessage(walData []byte, relations *relationCache) (*Change, error) {
	logicalMsg, err := pglogrepl.Parse(walData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse logical message: %w", err)
	}

	switch msg := logicalMsg.(type) {
	case *pglogrepl.RelationMessage:
		relations.store(msg)
		return nil, nil

	case *pglogrepl.InsertMessage:
		relation, ok := relations.get(msg.RelationID)
		if !ok {
			return nil, fmt.Errorf("received INSERT for unknown relation ID %d", msg.RelationID)
		}
		data, err := tupleToMap(msg.Tuple, relation)
		if err != nil {
			return nil, err
		}
		return &Change{Operation: "INSERT", Schema: relation.Namespace, Table: relation.RelationName, Data: data}, nil

	case *pglogrepl.UpdateMessage:
		relation, ok := relations.get(msg.RelationID)
		if !ok {
			return nil, fmt.Errorf("received UPDATE for unknown relation ID %d", msg.RelationID)
		}
		newData, err := tupleToMap(msg.NewTuple, relation)
		if err != nil {
			return nil, err
		}
		var oldData map[string]interface{}
		if msg.OldTuple != nil {
			oldData, _ = tupleToMap(msg.OldTuple, relation)
		}
		return &Change{Operation: "UPDATE", Schema: relation.Namespace, Table: relation.RelationName, Data: newData, OldData: oldData}, nil

	case *pglogrepl.DeleteMessage:
		relation, ok := relations.get(msg.RelationID)
		if !ok {
			return nil, fmt.Errorf("received DELETE for unknown relation ID %d", msg.RelationID)
		}
		oldData, err := tupleToMap(msg.OldTuple, relation)
		if err != nil {
			return nil, err
		}
		return &Change{Operation: "DELETE", Schema: relation.Namespace, Table: relation.RelationName, OldData: oldData}, nil

	default:
		return nil, nil
	}
}

// tupleToMap extracts column values from a tuple keyed by column name.
// Unchanged TOAST columns are omitted rather than stored as a zero value,
// since "unchanged" and "empty" are not the same thing.
func tupleToMap(tuple *pglogrepl.TupleData, relation *pglogrepl.RelationMessage) (map[string]interface{}, error) {
	if tuple == nil {
		return nil, fmt.Errorf("tuple is nil")
	}

	data := make(map[string]interface{}, len(tuple.Columns))
	for idx, col := range tuple.Columns {
		if idx >= len(relation.Columns) {
			continue
		}
		name := relation.Columns[idx].Name

		switch col.DataType {
		case 'n':
			data[name] = nil
		case 'u':
			// unchanged TOAST value, omit
		default:
			data[name] = string(col.Data)
		}
	}
	return data, nil
}
