package usecase

import (
	"errors"

	"github.com/Nzyazin/walletd/internal/core/models"
	"github.com/Nzyazin/walletd/internal/core/repository"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientFunds   = repository.ErrInsufficientFunds
	ErrInvalidTransition   = models.ErrInvalidTransition
	ErrWalletNotFound      = repository.ErrWalletNotFound
	ErrTransactionNotFound = repository.ErrTransactionNotFound
)
