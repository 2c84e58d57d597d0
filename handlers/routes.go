package handlers

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the wallet-scoped API on a router that already runs
// the session middleware.
func RegisterRoutes(protected *mux.Router, challenges *ChallengeHandler, checkIns *CheckInHandler, accounts *AccountHandler) {
	protected.HandleFunc("/challenges", challenges.ListChallenges).Methods("GET")
	protected.HandleFunc("/challenges", challenges.CreateChallenge).Methods("POST")
	protected.HandleFunc("/challenges/{id:[0-9]+}", challenges.GetChallenge).Methods("GET")
	protected.HandleFunc("/challenges/{id:[0-9]+}/claim", challenges.ClaimReward).Methods("POST")
	protected.HandleFunc("/challenges/{id:[0-9]+}/withdraw", challenges.EmergencyWithdraw).Methods("POST")
	protected.HandleFunc("/challenges/{id:[0-9]+}/resurrect", challenges.UseResurrection).Methods("POST")
	protected.HandleFunc("/challenges/{id:[0-9]+}/reading-notes", checkIns.SubmitReadingNote).Methods("POST")
	protected.HandleFunc("/dashboard", challenges.Dashboard).Methods("GET")

	protected.HandleFunc("/checkins/sync", checkIns.Sync).Methods("POST")
	protected.HandleFunc("/checkins/today", checkIns.Today).Methods("GET")
	protected.HandleFunc("/checkins/history", checkIns.History).Methods("GET")

	protected.HandleFunc("/accounts/github", accounts.GitHub).Methods("GET")
	protected.HandleFunc("/accounts/strava", accounts.Strava).Methods("GET")
}
