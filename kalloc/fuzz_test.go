package kalloc

import (
	"errors"
	"log/slog"
	"testing"
)

// Fuzz an op script against a small allocator. Each byte is one op: the low
// bits pick a worker, the high bit picks allocate vs free. Guards against
// panics and checks that frames are conserved and never handed out twice.
func FuzzAllocator_Script(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0x00, 0x01, 0x02, 0x03})
	f.Add([]byte{0x01, 0x81, 0x01, 0x01, 0x01, 0x01})
	f.Add([]byte{0x03, 0x03, 0x83, 0x02, 0x82, 0x00, 0x80, 0x01})

	f.Fuzz(func(t *testing.T, script []byte) {
		const (
			workers = 4
			frames  = 9
		)
		// Cap the script to keep each iteration cheap.
		if len(script) > 256 {
			script = script[:256]
		}

		a, err := New(Options{
			RangeStart: base,
			RangeEnd:   base + frames*PageSize,
			Workers:    workers,
			SeedWorker: 2,
			Logger:     slog.New(slog.DiscardHandler),
		})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = a.Close() })

		held := map[Frame]bool{}
		var order []Frame
		for _, op := range script {
			w := int(op&0x7f) % workers
			if op&0x80 == 0 {
				f, err := a.Allocate(w)
				if errors.Is(err, ErrNoMemory) {
					if len(held) != frames {
						t.Fatalf("ErrNoMemory with %d of %d frames held", len(held), frames)
					}
					continue
				}
				if err != nil {
					t.Fatal(err)
				}
				if held[f] {
					t.Fatalf("frame %#x handed out twice", uint64(f))
				}
				held[f] = true
				order = append(order, f)
				continue
			}
			if len(order) == 0 {
				continue
			}
			f := order[0]
			order = order[1:]
			delete(held, f)
			a.Free(w, f)
		}

		st := a.Stats()
		if st.Free+len(held) != frames {
			t.Fatalf("free=%d held=%d, want total %d", st.Free, len(held), frames)
		}
		sum := 0
		for w := 0; w < workers; w++ {
			sum += a.PoolLen(w)
		}
		if sum != st.Free {
			t.Fatalf("pool lengths sum to %d, Stats.Free=%d", sum, st.Free)
		}
	})
}
