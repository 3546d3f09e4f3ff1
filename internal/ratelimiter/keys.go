package ratelimiter

// Key-building functions for the rate limiter's cache entries, centralized
// here rather than inlined at call sites.

const (
	smsPhonePrefix = "ratelimit:sms:phone:"
	verifyIPPrefix = "ratelimit:verify:ip:"
	failuresPrefix = "ratelimit:failures:"
	lockPrefix     = "ratelimit:lock:"
)

func smsPhoneHourKey(phoneHash string) string { return smsPhonePrefix + phoneHash + ":1h" }
func smsPhoneDayKey(phoneHash string) string  { return smsPhonePrefix + phoneHash + ":1d" }
func verifyIPKey(ip string) string            { return verifyIPPrefix + ip }
func failuresKey(key string) string           { return failuresPrefix + key }
func lockKey(key string) string               { return lockPrefix + key }
