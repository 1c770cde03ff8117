package headerchain

import "time"

// medianTimePastWindow is how many ancestors feed the median-time-past
// calculation, the standard Bitcoin-style window.
const medianTimePastWindow = 11

// timeAt converts a header's wire timestamp (seconds since epoch) to a
// time.Time in UTC.
func timeAt(unixSeconds uint32) time.Time {
	return time.Unix(int64(unixSeconds), 0).UTC()
}

// medianTimePast is the median of up to the last medianTimePastWindow
// headers' timestamps ending at idx, inclusive. A new header must carry a
// timestamp strictly greater than this to be accepted, defending against a
// single peer skewing the chain's effective clock.
func medianTimePast(idx *BlockIndex) time.Time {
	var times []uint32
	for n, cur := 0, idx; cur != nil && n < medianTimePastWindow; n, cur = n+1, cur.Parent {
		times = append(times, cur.Header.Time)
	}

	// Insertion sort: window is at most 11 entries.
	for i := 1; i < len(times); i++ {
		v := times[i]
		j := i - 1
		for j >= 0 && times[j] > v {
			times[j+1] = times[j]
			j--
		}
		times[j+1] = v
	}

	return timeAt(times[len(times)/2])
}
