package util

import (
	"crypto/rand"
	"encoding/binary"
)

const charset = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randStr(n int, cs string) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = cs[int(b)%len(cs)]
	}
	return string(buf)
}

func RandString(n int) string {
	return randStr(n, charset)
}

func RandStringLC(n int) string {
	return randStr(n, charset[:36])
}

// RandUint31 returns a random number in range [1, 2^31-1].
func RandUint31() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	if v := binary.BigEndian.Uint32(buf[:]) & 0x7fffffff; v != 0 {
		return v
	}
	return 1
}
