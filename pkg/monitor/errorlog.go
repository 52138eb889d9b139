package monitor

// errorLog 固定容量的环形错误日志，满时淘汰最早的记录。调用方负责加锁。
type errorLog struct {
	buf   []ErrorRecord
	start int
	size  int
}

func newErrorLog(capacity int) *errorLog {
	if capacity <= 0 {
		capacity = DefaultErrorCapacity
	}
	return &errorLog{buf: make([]ErrorRecord, capacity)}
}

func (l *errorLog) append(rec ErrorRecord) {
	capacity := len(l.buf)
	if l.size < capacity {
		l.buf[(l.start+l.size)%capacity] = rec
		l.size++
		return
	}
	l.buf[l.start] = rec
	l.start = (l.start + 1) % capacity
}

func (l *errorLog) len() int { return l.size }

// records 按从旧到新的顺序返回副本
func (l *errorLog) records() []ErrorRecord {
	out := make([]ErrorRecord, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}
