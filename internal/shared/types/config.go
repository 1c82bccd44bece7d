package types

// ServerConf 描述 TCP 服务器的监听参数。
type ServerConf struct {
	Address    string `ini:"address"`
	Port       int    `ini:"port"`
	Backlog    int    `ini:"backlog"`     // 监听队列长度，同时也是并发接入的上限
	BufferSize int    `ini:"buffer_size"` // 每个连接的接收缓冲区大小
	Encoding   string `ini:"encoding"`    // 收发使用的固定编码, e.g. "shift_jis"
	Transform  string `ini:"transform"`   // echo, upper, lower, reverse
}

// ErrorLogConf controls the append-only error log file.
type ErrorLogConf struct {
	Enabled       bool   `ini:"enabled"`
	File          string `ini:"file"`           // empty means "TCP Server Error.csv" next to the executable
	RetryInterval int    `ini:"retry_interval"` // milliseconds between lock retries
}

// NotifyConf toggles the error notifier.
type NotifyConf struct {
	Enabled bool `ini:"enabled"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// Config 是服务器的统一配置结构体
type Config struct {
	ServerConf   `ini:"server"`
	ErrorLogConf `ini:"errorlog"`
	NotifyConf   `ini:"notify"`
	LogConf      `ini:"log"`
}
