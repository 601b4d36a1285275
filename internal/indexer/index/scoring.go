package index

import "math"

// BM25 parameters.
const (
	k1 = 1.2
	b  = 0.75
)

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	lengthRatio := 1.0
	if avgDocLength > 0 && docLength > 0 {
		lengthRatio = docLength / avgDocLength
	}
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}

// termScorer scores the documents of one term within one segment.
type termScorer struct {
	idf    float64
	avgLen float64
	fi     *fieldIndex
	boost  float32
}

func newTermScorer(r *Reader, fi *fieldIndex, field, term string, boost float32) termScorer {
	return termScorer{
		idf:    computeIDF(int64(r.maxDoc), int64(r.DocFreq(field, term))),
		avgLen: r.fieldStats[field].avgLen(),
		fi:     fi,
		boost:  boost,
	}
}

func (ts termScorer) score(pl *postingList, doc uint32) float32 {
	tf := float64(pl.freqs[doc])
	s := ts.idf * computeTFNorm(tf, float64(ts.fi.lengths[doc]), ts.avgLen)
	if fb, ok := ts.fi.boosts[doc]; ok {
		s *= float64(fb)
	}
	return float32(s) * ts.boost
}
