// Package identitydb implements ports.IdentityStore as a
// little-endian binary identity database: a flat, append/overwrite
// file of fixed-then-variable-length device identity records. The
// encoding is private to this package (nothing outside it depends on
// the byte layout), so the only contract tested is round-trip
// fidelity.
package identitydb

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
)

const identityIDFieldLen = 10

// Store persists the randomization engine's identity table to a
// single flat file.
type Store struct {
	path string
}

// New constructs a Store bound to path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the identity table. A corrupt or truncated record stops
// the read at the last complete record and returns everything parsed
// before it, a degraded-storage condition rather than a fatal one. A
// missing file loads as empty.
func (s *Store) Load(ctx context.Context) ([]*domain.DeviceIdentity, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identitydb: open: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, nil
	}

	out := make([]*domain.DeviceIdentity, 0, count)
	for i := uint32(0); i < count; i++ {
		id, err := readRecord(r)
		if err != nil {
			log.Printf("identitydb: stopping load at record %d/%d: %v", i, count, err)
			break
		}
		out = append(out, id)
	}
	return out, nil
}

// Save overwrites the identity database with the current in-memory
// table, writing to a temp file and renaming over the old one.
func (s *Store) Save(ctx context.Context, identities []*domain.DeviceIdentity) error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("identitydb: create: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(identities))); err != nil {
		f.Close()
		return fmt.Errorf("identitydb: write count: %w", err)
	}
	for _, id := range identities {
		if err := writeRecord(w, id); err != nil {
			f.Close()
			return fmt.Errorf("identitydb: write record %s: %w", id.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("identitydb: flush: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("identitydb: close: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func writeRecord(w io.Writer, id *domain.DeviceIdentity) error {
	var idBytes [identityIDFieldLen]byte
	copy(idBytes[:], id.ID)

	fields := []any{
		idBytes,
		uint32(len(id.MACs)),
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	for _, mac := range id.MACs {
		if err := binary.Write(w, binary.LittleEndian, mac); err != nil {
			return err
		}
	}

	if err := writeSignature(w, &id.Signature); err != nil {
		return err
	}

	return writeScalar(w,
		id.FirstSeen.Unix(),
		id.LastSeen.Unix(),
		id.Confidence,
		int32(id.ObservedSessions),
		id.LastSequenceNum,
		boolByte(id.SequenceValid),
		boolByte(id.HasKnownGlobalMAC),
		id.KnownGlobalMAC,
		boolByte(id.IsBLE),
	)
}

func readRecord(r io.Reader) (*domain.DeviceIdentity, error) {
	var idBytes [identityIDFieldLen]byte
	if err := binary.Read(r, binary.LittleEndian, &idBytes); err != nil {
		return nil, err
	}
	id := &domain.DeviceIdentity{ID: trimZero(idBytes[:])}

	var macCount uint32
	if err := binary.Read(r, binary.LittleEndian, &macCount); err != nil {
		return nil, err
	}
	if macCount > domain.MaxMACsPerIdentity {
		return nil, fmt.Errorf("mac count %d exceeds cap", macCount)
	}
	id.MACs = make([][6]byte, macCount)
	for i := range id.MACs {
		if err := binary.Read(r, binary.LittleEndian, &id.MACs[i]); err != nil {
			return nil, err
		}
	}

	if err := readSignature(r, &id.Signature); err != nil {
		return nil, err
	}

	var firstSeen, lastSeen int64
	var observedSessions int32
	var seqValid, hasGlobalMAC, isBLE byte
	if err := readScalar(r,
		&firstSeen, &lastSeen, &id.Confidence, &observedSessions,
		&id.LastSequenceNum, &seqValid, &hasGlobalMAC, &id.KnownGlobalMAC, &isBLE,
	); err != nil {
		return nil, err
	}
	id.FirstSeen = unixToTime(firstSeen)
	id.LastSeen = unixToTime(lastSeen)
	id.ObservedSessions = int(observedSessions)
	id.SequenceValid = seqValid != 0
	id.HasKnownGlobalMAC = hasGlobalMAC != 0
	id.IsBLE = isBLE != 0

	return id, nil
}

func writeSignature(w io.Writer, sig *domain.BehavioralSignature) error {
	if err := writeSlot(w, sig.Full); err != nil {
		return err
	}
	if err := writeSlot(w, sig.Minimal); err != nil {
		return err
	}
	if err := writeScalar(w, sig.ChannelMask); err != nil {
		return err
	}
	if err := writeIntSlice(w, sig.ChannelSequence); err != nil {
		return err
	}
	if err := writeInt8Slice(w, sig.RSSIHistory); err != nil {
		return err
	}
	if err := writeFloat64Slice(w, sig.ProbeGapsMS); err != nil {
		return err
	}
	return writeScalar(w, sig.IntervalConsistency, sig.RSSIConsistency, int32(sig.ObservationCount))
}

func readSignature(r io.Reader, sig *domain.BehavioralSignature) error {
	if err := readSlot(r, &sig.Full); err != nil {
		return err
	}
	if err := readSlot(r, &sig.Minimal); err != nil {
		return err
	}
	if err := readScalar(r, &sig.ChannelMask); err != nil {
		return err
	}
	seq, err := readIntSlice(r)
	if err != nil {
		return err
	}
	sig.ChannelSequence = seq

	rssi, err := readInt8Slice(r)
	if err != nil {
		return err
	}
	sig.RSSIHistory = rssi

	gaps, err := readFloat64Slice(r)
	if err != nil {
		return err
	}
	sig.ProbeGapsMS = gaps

	var observationCount int32
	if err := readScalar(r, &sig.IntervalConsistency, &sig.RSSIConsistency, &observationCount); err != nil {
		return err
	}
	sig.ObservationCount = int(observationCount)
	return nil
}

func writeSlot(w io.Writer, slot domain.SignatureSlot) error {
	tagCount := uint8(len(slot.IEOrder.Tags))
	if err := writeScalar(w, boolByte(slot.Valid), slot.Fingerprint, tagCount); err != nil {
		return err
	}
	if tagCount > 0 {
		if _, err := w.Write(slot.IEOrder.Tags); err != nil {
			return err
		}
	}
	return writeScalar(w, slot.IEOrder.Hash)
}

func readSlot(r io.Reader, slot *domain.SignatureSlot) error {
	var valid byte
	var tagCount uint8
	if err := readScalar(r, &valid, &slot.Fingerprint, &tagCount); err != nil {
		return err
	}
	slot.Valid = valid != 0
	if tagCount > domain.MaxIEOrderTags {
		return fmt.Errorf("ie order tag count %d exceeds cap", tagCount)
	}
	if tagCount > 0 {
		slot.IEOrder.Tags = make([]uint8, tagCount)
		if _, err := io.ReadFull(r, slot.IEOrder.Tags); err != nil {
			return err
		}
	}
	return readScalar(r, &slot.IEOrder.Hash)
}

func writeIntSlice(w io.Writer, xs []int) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(xs))); err != nil {
		return err
	}
	for _, x := range xs {
		if err := binary.Write(w, binary.LittleEndian, int32(x)); err != nil {
			return err
		}
	}
	return nil
}

func readIntSlice(r io.Reader) ([]int, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > domain.MaxChannelSequence {
		return nil, fmt.Errorf("channel sequence length %d exceeds cap", n)
	}
	out := make([]int, n)
	for i := range out {
		var v int32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		out[i] = int(v)
	}
	return out, nil
}

func writeInt8Slice(w io.Writer, xs []int8) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(xs))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, xs)
}

func readInt8Slice(r io.Reader) ([]int8, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > domain.MaxRSSIReadings {
		return nil, fmt.Errorf("rssi history length %d exceeds cap", n)
	}
	out := make([]int8, n)
	if n > 0 {
		if err := binary.Read(r, binary.LittleEndian, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeFloat64Slice(w io.Writer, xs []float64) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(xs))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, xs)
}

func readFloat64Slice(r io.Reader) ([]float64, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > domain.MaxRSSIReadings {
		return nil, fmt.Errorf("probe gap length %d exceeds cap", n)
	}
	out := make([]float64, n)
	if n > 0 {
		if err := binary.Read(r, binary.LittleEndian, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeScalar(w io.Writer, fields ...any) error {
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func readScalar(r io.Reader, fields ...any) error {
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func unixToTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func trimZero(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
