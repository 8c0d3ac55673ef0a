package audio

// Block is one microphone read: a fixed-length sequence of signed 16-bit
// mono PCM samples. Blocks are transient; they are produced each tick and
// not retained after the tick that consumed them.
type Block []int16

// LevelNoData is the sentinel energy level returned for an empty block.
// Callers treat it as silence.
const LevelNoData = -1

// Level computes the mean absolute amplitude of a block. It is a pure
// function of the samples and carries no state.
func Level(block Block) int {
	if len(block) == 0 {
		return LevelNoData
	}

	var sum int64
	for _, sample := range block {
		if sample < 0 {
			sum -= int64(sample)
		} else {
			sum += int64(sample)
		}
	}

	return int(sum / int64(len(block)))
}

// BlockFromBytes converts little-endian PCM-16 bytes into a Block. A
// trailing odd byte is dropped.
func BlockFromBytes(data []byte) Block {
	n := len(data) / 2
	block := make(Block, n)
	for i := 0; i < n; i++ {
		block[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return block
}

// BlockToBytes converts a Block into little-endian PCM-16 bytes.
func BlockToBytes(block Block) []byte {
	data := make([]byte, len(block)*2)
	for i, sample := range block {
		data[i*2] = byte(sample)
		data[i*2+1] = byte(sample >> 8)
	}
	return data
}
