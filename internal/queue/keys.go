package queue

import (
	"regexp"
)

const keyPrefix = "queue:"

var topicNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,128}$`)

// validTopicName Topic 名称会出现在 key 与 SCAN MATCH 模式中，禁止 ':' 和 glob 字符
func validTopicName(name string) bool {
	return topicNamePattern.MatchString(name)
}

func pendingKey(topic string) string {
	return keyPrefix + topic
}

func delayedKey(topic string) string {
	return keyPrefix + topic + ":delayed"
}

func dlqKey(topic string) string {
	return keyPrefix + topic + ":dlq"
}

func seqKey(topic string) string {
	return keyPrefix + topic + ":seq"
}

func processingKey(topic, id string) string {
	return keyPrefix + topic + ":processing:" + id
}

func processingPattern(topic string) string {
	return keyPrefix + topic + ":processing:*"
}
