package index

import "github.com/RoaringBitmap/roaring/v2"

// mergeSegments compacts live documents of segs into one new frozen
// segment. Documents keep their relative order, so results sorted by
// document number are unaffected.
func mergeSegments(segs []*Segment) *Segment {
	out := newSegment()
	remaps := make([]map[uint32]uint32, len(segs))
	for i, seg := range segs {
		remap := make(map[uint32]uint32, seg.LiveDocs())
		for local := uint32(0); local < seg.MaxDoc(); local++ {
			if seg.isDeleted(local) {
				continue
			}
			remap[local] = uint32(len(out.stored))
			out.stored = append(out.stored, seg.stored[local])
			for _, sf := range seg.stored[local] {
				out.size += int64(len(sf.Name) + len(sf.Value) + len(sf.Binary) + 24)
			}
		}
		remaps[i] = remap
	}

	for i, seg := range segs {
		remap := remaps[i]
		for name, src := range seg.fields {
			dst := out.field(name)
			for term, pl := range src.terms {
				var target *postingList
				it := pl.docs.Iterator()
				for it.HasNext() {
					old := it.Next()
					nd, live := remap[old]
					if !live {
						continue
					}
					if target == nil {
						target = dst.terms[term]
						if target == nil {
							target = newPostingList()
							dst.terms[term] = target
						}
					}
					target.docs.Add(nd)
					target.freqs[nd] = pl.freqs[old]
					target.positions[nd] = pl.positions[old]
					out.size += int64(len(term) + 16)
				}
			}
			it := src.present.Iterator()
			for it.HasNext() {
				if nd, live := remap[it.Next()]; live {
					dst.present.Add(nd)
				}
			}
			remapInto(src.lengths, dst.lengths, remap)
			remapInto(src.boosts, dst.boosts, remap)
			remapInto(src.numerics, dst.numerics, remap)
			remapInto(src.points, dst.points, remap)
			remapInto(src.vectors, dst.vectors, remap)
			remapInto(src.sortKeys, dst.sortKeys, remap)
		}
	}
	for _, fi := range out.fields {
		fi.totalLen = 0
		for _, n := range fi.lengths {
			fi.totalLen += int64(n)
		}
	}
	out.deleted = roaring.New()
	out.freeze()
	return out
}

func remapInto[V any](src, dst map[uint32]V, remap map[uint32]uint32) {
	for old, v := range src {
		if nd, live := remap[old]; live {
			dst[nd] = v
		}
	}
}
