// Package device defines the capability surface of candidate positioning
// devices and the pieces shared by every transport:
//   - Device / PortDevice / StreamDevice interfaces consumed by the detector
//   - Signal, the one-shot completion signal of a probe
//   - Prober, the probe lifecycle (begin, cancel, report, complete) that
//     serial and wireless implementations embed
//   - BestDeviceComparator, the default ranking policy
//   - Sniff, which decides whether a byte stream carries NMEA data
//   - the error taxonomy (StateError sentinels, DetectionError)
package device
