package domain

import (
	"testing"
	"time"
)

func TestRepositoryIsDeleted(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		repo Repository
		want bool
	}{
		{name: "never deleted", repo: Repository{}, want: false},
		{name: "soft deleted", repo: Repository{DeletedAt: &now}, want: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.repo.IsDeleted(); got != tt.want {
				t.Fatalf("IsDeleted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRepositoryEffectiveUpdateInterval(t *testing.T) {
	custom := 45

	tests := []struct {
		name string
		repo Repository
		def  int
		want time.Duration
	}{
		{name: "uses default when unset", repo: Repository{}, def: 60, want: 60 * time.Minute},
		{name: "uses configured override", repo: Repository{UpdateIntervalMinutes: &custom}, def: 60, want: 45 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.repo.EffectiveUpdateInterval(tt.def); got != tt.want {
				t.Fatalf("EffectiveUpdateInterval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRepositoryBranchHasBeenProcessed(t *testing.T) {
	tests := []struct {
		name   string
		branch RepositoryBranch
		want   bool
	}{
		{name: "never processed", branch: RepositoryBranch{}, want: false},
		{name: "has a last commit", branch: RepositoryBranch{LastCommitID: "abc123"}, want: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.branch.HasBeenProcessed(); got != tt.want {
				t.Fatalf("HasBeenProcessed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWorkspaceIsIncremental(t *testing.T) {
	tests := []struct {
		name string
		ws   Workspace
		want bool
	}{
		{name: "first pass, no previous commit", ws: Workspace{CurrentCommitID: "b"}, want: false},
		{name: "previous equals current, no-op pass", ws: Workspace{PreviousCommitID: "a", CurrentCommitID: "a"}, want: false},
		{name: "previous differs from current", ws: Workspace{PreviousCommitID: "a", CurrentCommitID: "b"}, want: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ws.IsIncremental(); got != tt.want {
				t.Fatalf("IsIncremental() = %v, want %v", got, tt.want)
			}
		})
	}
}
