package features

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/mat"
)

// HzToMel converts frequency from Hz to the HTK mel scale.
func HzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

// MelToHz converts a mel value back to Hz.
func MelToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// CreateMelFilterbank builds the [NumMelBins x NumBins] triangular filterbank.
// Filter edges are spaced evenly in mel between FMin and FMax and each weight is
// evaluated at the centre frequency of its FFT bin, so narrow low-frequency
// filters still catch the nearest bin instead of collapsing to zero.
func CreateMelFilterbank(cfg Config) *mat.Dense {
	var (
		numBins    = cfg.NumBins()
		melMin     = HzToMel(cfg.FMin)
		melMax     = HzToMel(cfg.FMax)
		edges      = make([]float64, cfg.NumMelBins+2)
		binHz      = float64(cfg.SampleRate) / float64(cfg.FFTSize)
		filterbank = mat.NewDense(cfg.NumMelBins, numBins, nil)
	)
	for i := range edges {
		edges[i] = MelToHz(melMin + (melMax-melMin)*float64(i)/float64(cfg.NumMelBins+1))
	}
	for m := 0; m < cfg.NumMelBins; m++ {
		left, center, right := edges[m], edges[m+1], edges[m+2]
		for k := 0; k < numBins; k++ {
			f := float64(k) * binHz
			if f <= left || f >= right {
				continue
			}
			var w float64
			if f <= center {
				w = (f - left) / (center - left)
			} else {
				w = (right - f) / (right - center)
			}
			filterbank.Set(m, k, w)
		}
	}
	return filterbank
}

type filterbankKey struct {
	sampleRate, fftSize, numMelBins int
	fMin, fMax                      float64
}

func keyOf(cfg Config) filterbankKey {
	return filterbankKey{
		sampleRate: cfg.SampleRate,
		fftSize:    cfg.FFTSize,
		numMelBins: cfg.NumMelBins,
		fMin:       cfg.FMin,
		fMax:       cfg.FMax,
	}
}

// bankCache memoizes filterbanks and windows. Entries are never mutated after
// insertion, so readers share them without copying.
type bankCache struct {
	mu      sync.RWMutex
	banks   map[filterbankKey]*mat.Dense
	windows map[int][]float64
	hits    atomic.Int64
	misses  atomic.Int64
}

var cache = &bankCache{
	banks:   make(map[filterbankKey]*mat.Dense),
	windows: make(map[int][]float64),
}

func (c *bankCache) filterbank(cfg Config) *mat.Dense {
	key := keyOf(cfg)
	c.mu.RLock()
	fb, ok := c.banks[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return fb
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if fb, ok = c.banks[key]; ok {
		c.hits.Add(1)
		return fb
	}
	c.misses.Add(1)
	fb = CreateMelFilterbank(cfg)
	c.banks[key] = fb
	return fb
}

func (c *bankCache) hann(size int) []float64 {
	c.mu.RLock()
	w, ok := c.windows[size]
	c.mu.RUnlock()
	if ok {
		return w
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok = c.windows[size]; ok {
		return w
	}
	w = window.Hann(size)
	c.windows[size] = w
	return w
}

// CacheStats reports the filterbank cache size and hit rate.
type CacheStats struct {
	Entries int
	Hits    int64
	Misses  int64
}

func (s CacheStats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

func ReadCacheStats() CacheStats {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	return CacheStats{Entries: len(cache.banks), Hits: cache.hits.Load(), Misses: cache.misses.Load()}
}
