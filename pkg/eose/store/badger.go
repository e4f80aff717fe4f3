package store

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/timestamp"
	"github.com/Hubmakerlabs/poolr/pkg/slog"
)

// keys are prefix, scope, separator, relay url.
const (
	prefix    = "eose/"
	separator = "\x00"
)

func key(scope string, rl relayurl.T) []byte {
	return []byte(prefix + scope + separator + string(rl))
}

func scopePrefix(scope string) []byte { return []byte(prefix + scope + separator) }

// Badger is an I kept in a badger database.
type Badger struct {
	Path string
	*badger.DB
}

var _ I = (*Badger)(nil)

// OpenBadger opens or creates the store at path. An empty path keeps the
// database in memory.
func OpenBadger(path string) (b *Badger, err error) {
	b = &Badger{Path: path}
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		log.I.Ln("opening eose store at", path)
		opts = badger.DefaultOptions(path)
	}
	opts.Compression = options.None
	opts.Logger = logger{Level: slog.GetLogLevel(), Label: "eose store"}
	if b.DB, err = badger.Open(opts); chk.E(err) {
		return nil, err
	}
	return
}

func (b *Badger) Load(scope string) (m Marks, err error) {
	m = make(Marks)
	pfx := scopePrefix(scope)
	err = b.View(func(txn *badger.Txn) (err error) {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: pfx})
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(pfx); it.Next() {
			item := it.Item()
			rl := relayurl.T(strings.TrimPrefix(string(item.Key()), string(pfx)))
			if err = item.Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("eose mark for %s has %d bytes", rl, len(val))
				}
				m[rl] = timestamp.FromUnix(int64(binary.BigEndian.Uint64(val)))
				return nil
			}); chk.E(err) {
				return
			}
		}
		return
	})
	return
}

func (b *Badger) Save(scope string, rl relayurl.T, t timestamp.T) (err error) {
	k := key(scope, rl)
	return b.Update(func(txn *badger.Txn) (err error) {
		var item *badger.Item
		switch item, err = txn.Get(k); {
		case err == badger.ErrKeyNotFound:
		case err != nil:
			return
		default:
			var newer bool
			if err = item.Value(func(val []byte) error {
				newer = len(val) == 8 && int64(binary.BigEndian.Uint64(val)) >= t.I64()
				return nil
			}); err != nil || newer {
				return
			}
		}
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, uint64(t.I64()))
		return txn.Set(k, val)
	})
}

func (b *Badger) Close() (err error) { return b.DB.Close() }

// logger sends badger's own messages through slog.
type logger struct {
	Level slog.Level
	Label string
}

func (l logger) Errorf(s string, i ...interface{}) {
	if l.Level >= slog.Error {
		log.E.Ln(l.Label+":", strings.TrimSpace(fmt.Sprintf(s, i...)))
	}
}

func (l logger) Warningf(s string, i ...interface{}) {
	if l.Level >= slog.Warn {
		log.W.Ln(l.Label+":", strings.TrimSpace(fmt.Sprintf(s, i...)))
	}
}

func (l logger) Infof(s string, i ...interface{}) {
	if l.Level >= slog.Info {
		log.I.Ln(l.Label+":", strings.TrimSpace(fmt.Sprintf(s, i...)))
	}
}

func (l logger) Debugf(s string, i ...interface{}) {
	if l.Level >= slog.Debug {
		log.D.Ln(l.Label+":", strings.TrimSpace(fmt.Sprintf(s, i...)))
	}
}
