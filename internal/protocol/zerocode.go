package protocol

// maxZeroRun is the longest run a single [0x00, n] pair can express.
const maxZeroRun = 255

// Zerocode compresses runs of zero bytes into [0x00, count] pairs. Runs
// longer than 255 are split into several pairs.
func Zerocode(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if data[i] != 0 {
			out = append(out, data[i])
			i++
			continue
		}
		run := 0
		for i < len(data) && data[i] == 0 && run < maxZeroRun {
			run++
			i++
		}
		out = append(out, 0x00, byte(run))
	}
	return out
}

// Zerodecode expands [0x00, count] pairs back into zero runs. A trailing
// 0x00 without a count byte ends the output there. A count of 0 expands
// to a single zero, matching encoders that emit it for a lone zero byte.
func Zerodecode(data []byte) []byte {
	out := make([]byte, 0, len(data)*2)
	for i := 0; i < len(data); i++ {
		if data[i] != 0 {
			out = append(out, data[i])
			continue
		}
		if i+1 >= len(data) {
			break
		}
		i++
		run := int(data[i])
		if run == 0 {
			run = 1
		}
		for j := 0; j < run; j++ {
			out = append(out, 0)
		}
	}
	return out
}
