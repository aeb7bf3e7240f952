package state

import (
	"encoding/binary"
	"fmt"
)

var (
	anchorQueuePrefix    = "anchor/queue/"
	anchorCursorPrefix   = "anchor/cursor/"
	anchorFaultKeyBytes  = []byte("anchor/fault")
	attestorPrefix       = []byte("attest/attestor/")
	raffleDrawKeyBytes   = []byte("raffle/draw/pending")
	raffleProgressBytes  = []byte("raffle/progress")
	oracleEraFormat      = "oracle/era/"
	rewardsBalancePrefix = []byte("rewards/balance/")
	rewardsTotalKeyBytes = []byte("rewards/total")
	rolePrefix           = "role/"
)

func joinKey(prefix []byte, suffix []byte) []byte {
	out := make([]byte, len(prefix)+len(suffix))
	copy(out, prefix)
	copy(out[len(prefix):], suffix)
	return out
}

func be64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func be32(v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return buf[:]
}

// QueueMetaKey holds the allocation bounds of a queue.
func QueueMetaKey(queue string) []byte {
	return []byte(fmt.Sprintf("%s%s/meta", anchorQueuePrefix, queue))
}

// QueueMessagePrefix is shared by every stored message of a queue.
func QueueMessagePrefix(queue string) []byte {
	return []byte(fmt.Sprintf("%s%s/msg/", anchorQueuePrefix, queue))
}

// QueueMessageKey orders messages by big-endian index so prefix iteration
// yields them in sequence order.
func QueueMessageKey(queue string, index uint64) []byte {
	return joinKey(QueueMessagePrefix(queue), be64(index))
}

// QueueMessageIndex extracts the index encoded in a message key.
func QueueMessageIndex(queue string, key []byte) (uint64, bool) {
	prefix := QueueMessagePrefix(queue)
	if len(key) != len(prefix)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(prefix):]), true
}

func CursorKey(queue string) []byte {
	return []byte(anchorCursorPrefix + queue)
}

func AnchorFaultKey() []byte {
	return append([]byte(nil), anchorFaultKeyBytes...)
}

func AttestorPrefix() []byte {
	return append([]byte(nil), attestorPrefix...)
}

func AttestorKey(addr []byte) []byte {
	return joinKey(attestorPrefix, addr)
}

func RaffleDrawKey() []byte {
	return append([]byte(nil), raffleDrawKeyBytes...)
}

func RaffleProgressKey() []byte {
	return append([]byte(nil), raffleProgressBytes...)
}

func oracleEraPrefix(era uint32) []byte {
	return joinKey([]byte(oracleEraFormat), append(be32(era), '/'))
}

// OracleParticipantPrefix covers every staker recorded for an era.
func OracleParticipantPrefix(era uint32) []byte {
	return joinKey(oracleEraPrefix(era), []byte("participant/"))
}

func OracleParticipantKey(era uint32, addr []byte) []byte {
	return joinKey(OracleParticipantPrefix(era), addr)
}

func OracleRewardsKey(era uint32) []byte {
	return joinKey(oracleEraPrefix(era), []byte("rewards"))
}

func RewardsBalanceKey(addr []byte) []byte {
	return joinKey(rewardsBalancePrefix, addr)
}

func RewardsTotalKey() []byte {
	return append([]byte(nil), rewardsTotalKeyBytes...)
}

func RolePrefix(role string) []byte {
	return []byte(rolePrefix + role + "/")
}
