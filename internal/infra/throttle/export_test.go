package throttle

var WithRandom = withRandom
