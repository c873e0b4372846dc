package pool

// ActionPauses exposes fine-grained switches for halting individual market
// flows without tearing down the daemon.
type ActionPauses struct {
	Supply   bool
	Withdraw bool
	Borrow   bool
	Repay    bool
}
