package wager

import "errors"

// Expected, user-facing rejections. The gateway maps these to wire
// error codes; none of them is a fault.
var (
	ErrRoundNotAcceptingBets = errors.New("round not accepting bets")
	ErrWagerAlreadyOpen      = errors.New("wager already open for this round")
	ErrNoOpenWager           = errors.New("no open wager")
	ErrRoundNotRunning       = errors.New("round not running")
	ErrInvalidAmount         = errors.New("wager amount must be a positive integer")
)
