// Command opticam makes synthetic telescope frames, finds the sources
// in frames, and follows them from frame to frame.
//
// Usage:
//
//	opticam synth observations --out ./data --count 100
//	opticam detect --db cat.db ./data
//	opticam lightcurve --db cat.db --filter g -x 120 -y 80 --plot lc.png
package main

func main() {
	Execute()
}
