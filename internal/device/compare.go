package device

import "slices"

// Comparator orders devices for arbitration. It returns a negative number
// when a should be tried before b, positive when after, zero when equivalent.
type Comparator func(a, b Device) int

// BestDeviceComparator ranks open devices before closed ones and, within the
// same open state, devices with a better detection history first. Everything
// else is left to the caller's discovery order.
func BestDeviceComparator(a, b Device) int {
	if ao, bo := a.IsOpen(), b.IsOpen(); ao != bo {
		if ao {
			return -1
		}
		return 1
	}

	as, bs := a.Reliability().Score(), b.Reliability().Score()
	switch {
	case as > bs:
		return -1
	case as < bs:
		return 1
	}
	return 0
}

// Rank stable-sorts devices in place using cmp (BestDeviceComparator if nil).
func Rank(devices []Device, cmp Comparator) {
	if cmp == nil {
		cmp = BestDeviceComparator
	}
	slices.SortStableFunc(devices, cmp)
}
